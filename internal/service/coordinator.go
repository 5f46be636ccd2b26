// Package service contains the coordinator that owns the polling cadence,
// the connection lifecycle and the last-known-value policy.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
	"github.com/martinkalmus/ha-timnet/internal/store"
)

// BlockReader performs a single "read N registers starting at A" exchange.
type BlockReader interface {
	ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error)
	Close() error
}

// Publisher receives the readings of each successful poll cycle.
type Publisher interface {
	PublishBatch(ctx context.Context, readings []domain.Reading) error
}

// Config holds coordinator configuration.
type Config struct {
	// ScanInterval is the fixed polling period
	ScanInterval time.Duration

	// DeviceIdleTimeout is the device's own idle-disconnect timeout; with
	// one scan interval of margin it forms the disconnect threshold
	DeviceIdleTimeout time.Duration

	// ReadTimeout bounds one block read
	ReadTimeout time.Duration
}

// Coordinator runs the periodic poll loop: one block read per tick, decode
// of every register definition, atomic publish into the value store. A
// failed read retains all stored values; the liveness flag only drops after
// the disconnect threshold has elapsed since the last success.
type Coordinator struct {
	config  Config
	reader  BlockReader
	store   *store.Store
	pub     Publisher
	logger  zerolog.Logger
	metrics *metrics.Registry

	defs       []domain.RegisterDefinition
	blockStart uint16
	blockCount uint16

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// now is replaceable for tests
	now func() time.Time
}

// New creates a coordinator over the given register definitions. The block
// bounds are sized to cover the definition with the maximum offset.
func New(
	config Config,
	defs []domain.RegisterDefinition,
	reader BlockReader,
	valueStore *store.Store,
	pub Publisher,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *Coordinator {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 8 * time.Second
	}
	if config.DeviceIdleTimeout <= 0 {
		config.DeviceIdleTimeout = 10 * time.Second
	}
	if config.ReadTimeout <= 0 || config.ReadTimeout >= config.DeviceIdleTimeout {
		config.ReadTimeout = config.DeviceIdleTimeout - time.Second
	}

	start, count := domain.BlockBounds(defs)
	return &Coordinator{
		config:     config,
		reader:     reader,
		store:      valueStore,
		pub:        pub,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		metrics:    metricsReg,
		defs:       defs,
		blockStart: start,
		blockCount: count,
		now:        time.Now,
	}
}

// Start launches the poll loop. The loop runs in a single goroutine, so the
// next tick can never overlap a poll still in flight.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.logger.Info().
			Dur("scan_interval", c.config.ScanInterval).
			Uint16("block_start", c.blockStart).
			Uint16("block_count", c.blockCount).
			Msg("Starting poll loop")

		ticker := time.NewTicker(c.config.ScanInterval)
		defer ticker.Stop()

		c.Poll(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Poll(ctx)
			}
		}
	}()
}

// Stop halts the timer and releases the connection. Safe to call while a
// poll is in flight; the poll finishes first.
func (c *Coordinator) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Error closing device connection")
	}
	c.logger.Info().Msg("Poll loop stopped")
}

// Poll performs one poll cycle: block read, decode, store publish. All
// failures are absorbed here; nothing propagates to collaborators.
func (c *Coordinator) Poll(ctx context.Context) {
	startTime := c.now()

	readCtx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	words, err := c.reader.ReadBlock(readCtx, c.blockStart, c.blockCount)
	cancel()

	if err != nil {
		c.handleFailure(err, c.now().Sub(startTime))
		return
	}

	sample := domain.RawSample{Start: c.blockStart, Words: words, AcquiredAt: startTime}
	readings := c.decodeSample(&sample)

	c.store.Publish(readings, startTime)
	c.metrics.RecordPoll("success", c.now().Sub(startTime).Seconds())
	c.metrics.SetConnected(true)
	if c.metrics != nil {
		c.metrics.ReadingsUpdated.Add(float64(len(readings)))
	}

	if c.pub != nil {
		if err := c.pub.PublishBatch(ctx, readings); err != nil {
			c.logger.Warn().Err(err).Int("readings", len(readings)).Msg("Failed to publish readings")
		}
	}

	c.logger.Debug().
		Int("readings", len(readings)).
		Dur("duration", c.now().Sub(startTime)).
		Msg("Poll cycle completed")
}

// decodeSample runs every register definition against the fresh block.
// Decode anomalies are counted and logged, never fatal.
func (c *Coordinator) decodeSample(sample *domain.RawSample) []domain.Reading {
	readings := make([]domain.Reading, 0, len(c.defs)+1)
	for _, def := range c.defs {
		raw, ok := sample.WordAt(def.Address)
		if !ok {
			// Cannot happen with correctly sized blocks; keep the
			// previous reading rather than inventing one.
			c.logger.Error().Str("key", def.Key).Uint16("address", def.Address).Msg("Register outside block")
			continue
		}
		for _, r := range domain.Decode(def, raw, sample.AcquiredAt) {
			if r.State == domain.StateUnknown {
				if c.metrics != nil {
					c.metrics.DecodeAnomalies.Inc()
				}
				c.logger.Debug().
					Str("key", r.Key).
					Uint16("raw", r.Raw).
					Msg("Unrecognized register code")
			}
			readings = append(readings, r)
		}
	}
	return readings
}

// handleFailure applies the last-known-value policy: stored readings are
// kept and marked stale, and the connection flag only drops once the
// elapsed time since the last success exceeds the disconnect threshold.
func (c *Coordinator) handleFailure(err error, duration time.Duration) {
	state, lastSuccess := c.store.Connection()
	elapsed := c.now().Sub(lastSuccess)
	disconnected := elapsed > c.disconnectThreshold()

	c.store.MarkStale(disconnected)
	c.metrics.RecordPoll("failure", duration.Seconds())
	if disconnected {
		c.metrics.SetConnected(false)
	}

	evt := c.logger.Warn()
	if errors.Is(err, domain.ErrCircuitBreakerOpen) {
		// Breaker open means the endpoint is known bad; don't spam warnings.
		evt = c.logger.Debug()
	}
	evt.Err(err).
		Dur("since_last_success", elapsed).
		Bool("disconnected", disconnected || state == domain.ConnectionDisconnected).
		Msg("Poll failed, retaining last known values")
}

// disconnectThreshold is the device idle timeout plus one scan interval of
// margin, so a single missed poll never flaps the liveness flag.
func (c *Coordinator) disconnectThreshold() time.Duration {
	return c.config.DeviceIdleTimeout + c.config.ScanInterval
}
