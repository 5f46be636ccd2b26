package modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr error
	}{
		{
			"missing address",
			ClientConfig{UnitID: 1},
			domain.ErrHostRequired,
		},
		{
			"zero unit ID",
			ClientConfig{Address: "192.168.1.50:502"},
			domain.ErrInvalidUnitID,
		},
		{
			"unit ID too large",
			ClientConfig{Address: "192.168.1.50:502", UnitID: 248},
			domain.ErrInvalidUnitID,
		},
		{
			"timeout not shorter than device idle timeout",
			ClientConfig{Address: "192.168.1.50:502", UnitID: 1, Timeout: 10 * time.Second, DeviceIdleTimeout: 10 * time.Second},
			domain.ErrTimeoutTooLong,
		},
		{
			"valid",
			ClientConfig{Address: "192.168.1.50:502", UnitID: 1, Timeout: 3 * time.Second, DeviceIdleTimeout: 10 * time.Second},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, zerolog.Nop(), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(ClientConfig{Address: "192.168.1.50:502", UnitID: 1}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.config.Timeout != 3*time.Second {
		t.Errorf("expected default timeout 3s, got %v", c.config.Timeout)
	}
	if c.config.DeviceIdleTimeout != 10*time.Second {
		t.Errorf("expected default device idle timeout 10s, got %v", c.config.DeviceIdleTimeout)
	}
	if c.IsConnected() {
		t.Error("client must not connect eagerly")
	}
}

func TestWordsFromBytes(t *testing.T) {
	words := wordsFromBytes([]byte{0x00, 0xEB, 0x4E, 0x20, 0xFF, 0xFF})
	want := []uint16{235, 20000, 65535}
	if len(words) != len(want) {
		t.Fatalf("expected %d words, got %d", len(want), len(words))
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d: expected %d, got %d", i, want[i], words[i])
		}
	}
}

// A failed exchange shows up in the connection counters: one attempt, one
// error.
func TestReadBlockCountsConnectionMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	// Port 1 on loopback refuses immediately.
	c, err := NewClient(ClientConfig{Address: "127.0.0.1:1", UnitID: 1}, zerolog.Nop(), reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.ReadBlock(context.Background(), 0, 22); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if got := testutil.ToFloat64(reg.ConnectionsTotal); got != 1 {
		t.Errorf("expected 1 connection attempt, got %v", got)
	}
	if got := testutil.ToFloat64(reg.ConnectionErrors); got != 1 {
		t.Errorf("expected 1 connection error, got %v", got)
	}
}

func TestReadBlockRejectsBadCount(t *testing.T) {
	c, err := NewClient(ClientConfig{Address: "192.168.1.50:502", UnitID: 1}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, count := range []uint16{0, 126} {
		if _, err := c.ReadBlock(context.Background(), 0, count); !errors.Is(err, domain.ErrInvalidRegisterCount) {
			t.Errorf("count %d: expected ErrInvalidRegisterCount, got %v", count, err)
		}
	}
}
