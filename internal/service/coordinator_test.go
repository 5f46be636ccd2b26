package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
	"github.com/martinkalmus/ha-timnet/internal/store"
)

// fakeReader serves canned blocks or errors, one per call.
type fakeReader struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	closed    bool
	lastStart uint16
	lastCount uint16
}

type fakeResponse struct {
	words []uint16
	err   error
}

func (f *fakeReader) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastStart, f.lastCount = start, count
	if f.calls >= len(f.responses) {
		return nil, errors.New("no scripted response")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp.words, resp.err
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// goodBlock returns a full 22-word register block with the given T1 raw.
func goodBlock(tt uint16) []uint16 {
	words := make([]uint16, 22)
	words[0x00] = tt
	words[0x01] = 20002 // T2 inactive (TimNet 100)
	words[0x02] = 120   // 2 minutes
	words[0x03] = 47
	words[0x05] = 2  // standard
	words[0x06] = 1  // wood
	words[0x07] = 3  // standard
	words[0x08] = 31 // level 0, active
	words[0x14] = 5  // burning_rising
	return words
}

func newTestCoordinator(reader BlockReader, clock *fakeClock) (*Coordinator, *store.Store) {
	s := store.New()
	c := New(Config{
		ScanInterval:      8 * time.Second,
		DeviceIdleTimeout: 10 * time.Second,
		ReadTimeout:       3 * time.Second,
	}, domain.Registers(), reader, s, nil, zerolog.Nop(), nil)
	c.now = clock.now
	return c, s
}

func TestPollDecodesFullBlock(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{{words: goodBlock(235)}}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, s := newTestCoordinator(reader, clock)

	c.Poll(context.Background())

	if reader.lastStart != 0 || reader.lastCount != 22 {
		t.Errorf("expected block read (0, 22), got (%d, %d)", reader.lastStart, reader.lastCount)
	}
	r, ok := s.Get("tt")
	if !ok || r.Value.(float64) != 23.5 {
		t.Fatalf("expected tt=23.5, got %v ok=%v", r.Value, ok)
	}
	if r.Raw != 235 {
		t.Errorf("raw word not stored, got %d", r.Raw)
	}
	if r, _ := s.Get("cas"); r.Value.(float64) != 2.0 {
		t.Errorf("expected cas=2 minutes, got %v", r.Value)
	}
	if r, _ := s.Get("sds_level"); r.Value.(int64) != 0 {
		t.Errorf("expected sds_level=0, got %v", r.Value)
	}
	if r, _ := s.Get("sds_active"); !r.Value.(bool) {
		t.Errorf("expected sds_active=true, got %v", r.Value)
	}
	if r, _ := s.Get("tt2"); r.State != domain.StateInactive {
		t.Errorf("expected tt2 inactive, got %v/%v", r.Value, r.State)
	}
	if state, _ := s.Connection(); state != domain.ConnectionConnected {
		t.Errorf("expected connected, got %s", state)
	}
}

// One failed poll keeps every value and does not flip the liveness flag.
func TestLastKnownValueRetention(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{
		{words: goodBlock(235)},
		{err: domain.ErrReadFailed},
	}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, s := newTestCoordinator(reader, clock)

	c.Poll(context.Background())
	clock.advance(8 * time.Second)
	c.Poll(context.Background())

	r, _ := s.Get("tt")
	if r.Value.(float64) != 23.5 {
		t.Errorf("value must be retained across a failed poll, got %v", r.Value)
	}
	if !r.Stale {
		t.Error("retained reading should be stale")
	}
	if state, _ := s.Connection(); state != domain.ConnectionConnected {
		t.Errorf("one missed poll must not flip the flag, got %s", state)
	}
}

// The liveness flag drops exactly when elapsed time since the last success
// exceeds device idle timeout + one scan interval (10s + 8s = 18s).
func TestDisconnectThresholdTransition(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{
		{words: goodBlock(235)},
		{err: domain.ErrReadFailed},
		{err: domain.ErrReadFailed},
		{err: domain.ErrReadFailed},
	}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, s := newTestCoordinator(reader, clock)

	// t=0: success
	c.Poll(context.Background())

	// t=8: elapsed 8s <= 18s, still connected
	clock.advance(8 * time.Second)
	c.Poll(context.Background())
	if state, _ := s.Connection(); state != domain.ConnectionConnected {
		t.Fatalf("t=8s: expected connected, got %s", state)
	}

	// t=16: elapsed 16s <= 18s, still connected
	clock.advance(8 * time.Second)
	c.Poll(context.Background())
	if state, _ := s.Connection(); state != domain.ConnectionConnected {
		t.Fatalf("t=16s: expected connected, got %s", state)
	}

	// t=24: elapsed 24s > 18s, disconnected
	clock.advance(8 * time.Second)
	c.Poll(context.Background())
	if state, _ := s.Connection(); state != domain.ConnectionDisconnected {
		t.Fatalf("t=24s: expected disconnected, got %s", state)
	}

	// Values are still the last known ones even while disconnected.
	if r, _ := s.Get("tt"); r.Value.(float64) != 23.5 {
		t.Errorf("expected retained 23.5, got %v", r.Value)
	}
}

func TestRecoveryAfterDisconnect(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{
		{words: goodBlock(235)},
		{err: domain.ErrReadFailed},
		{err: domain.ErrReadFailed},
		{err: domain.ErrReadFailed},
		{words: goodBlock(241)},
	}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, s := newTestCoordinator(reader, clock)

	for i := 0; i < 4; i++ {
		c.Poll(context.Background())
		clock.advance(8 * time.Second)
	}
	if state, _ := s.Connection(); state != domain.ConnectionDisconnected {
		t.Fatalf("expected disconnected before recovery, got %s", state)
	}

	c.Poll(context.Background())
	if state, _ := s.Connection(); state != domain.ConnectionConnected {
		t.Errorf("expected connected after recovery, got %s", state)
	}
	if r, _ := s.Get("tt"); r.Value.(float64) != 24.1 || r.Stale {
		t.Errorf("expected fresh 24.1, got %v stale=%v", r.Value, r.Stale)
	}
}

// A decode anomaly in one register must not abort the rest of the block.
func TestDecodeAnomalyDoesNotAbortCycle(t *testing.T) {
	words := goodBlock(235)
	words[0x05] = 99 // unknown mode code
	reader := &fakeReader{responses: []fakeResponse{{words: words}}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, s := newTestCoordinator(reader, clock)

	c.Poll(context.Background())

	if r, _ := s.Get("rezim"); r.State != domain.StateUnknown {
		t.Errorf("expected unknown state for bad code, got %v/%v", r.Value, r.State)
	}
	if r, _ := s.Get("tt"); r.Value.(float64) != 23.5 {
		t.Errorf("other registers must still decode, got %v", r.Value)
	}
}

func TestStopClosesReader(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{{words: goodBlock(235)}}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, _ := newTestCoordinator(reader, clock)

	c.Start(context.Background())
	c.Stop()

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.closed {
		t.Error("Stop must release the device connection")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{{words: goodBlock(235)}}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c, _ := newTestCoordinator(reader, clock)

	c.Start(context.Background())
	c.Start(context.Background())
	c.Stop()
	c.Stop()
}

// slowFailingReader burns wall time on the injected clock before failing.
type slowFailingReader struct {
	clock *fakeClock
	delay time.Duration
}

func (r *slowFailingReader) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	r.clock.advance(r.delay)
	return nil, domain.ErrReadFailed
}

func (r *slowFailingReader) Close() error { return nil }

// A failed poll records its real elapsed time, not zero, so the duration
// histogram stays honest about slow failures.
func TestFailedPollRecordsRealDuration(t *testing.T) {
	reg := metrics.NewRegistry()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	reader := &slowFailingReader{clock: clock, delay: 3 * time.Second}
	c := New(Config{
		ScanInterval:      8 * time.Second,
		DeviceIdleTimeout: 10 * time.Second,
		ReadTimeout:       3 * time.Second,
	}, domain.Registers(), reader, store.New(), nil, zerolog.Nop(), reg)
	c.now = clock.now

	c.Poll(context.Background())

	if got := testutil.ToFloat64(reg.PollsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failed poll, got %v", got)
	}
	var m dto.Metric
	if err := reg.PollDuration.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.Histogram.GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 observation, got %d", got)
	}
	if got := m.Histogram.GetSampleSum(); got != 3.0 {
		t.Errorf("expected recorded duration 3s, got %vs", got)
	}
}

// Readings of a successful cycle are handed to the publisher.
func TestPublisherReceivesReadings(t *testing.T) {
	reader := &fakeReader{responses: []fakeResponse{{words: goodBlock(235)}}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := store.New()
	pub := &capturePublisher{}
	c := New(Config{
		ScanInterval:      8 * time.Second,
		DeviceIdleTimeout: 10 * time.Second,
	}, domain.Registers(), reader, s, pub, zerolog.Nop(), nil)
	c.now = clock.now

	c.Poll(context.Background())

	if len(pub.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(pub.batches))
	}
	// 16 registers, composite contributes two readings
	if got := len(pub.batches[0]); got != 17 {
		t.Errorf("expected 17 readings, got %d", got)
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]domain.Reading
}

func (p *capturePublisher) PublishBatch(ctx context.Context, readings []domain.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, readings)
	return nil
}
