// Package modbus wraps the goburrow Modbus TCP client into the single
// operation the bridge needs: reading one contiguous block of holding
// registers from the heating controller.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
)

// Client holds the single outbound connection to the device. The connection
// is established lazily on first use and reused across poll cycles; after a
// transport failure it is dropped so the next call reconnects. There is no
// retry within a call.
type Client struct {
	config  ClientConfig
	logger  zerolog.Logger
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Registry

	mu        sync.Mutex
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected atomic.Bool

	stats ClientStats
}

// ClientConfig holds configuration for the Modbus client.
type ClientConfig struct {
	// Address is the device host:port
	Address string

	// UnitID is the Modbus unit/slave identifier (1-247)
	UnitID byte

	// Timeout is the per-call read timeout. It must be strictly shorter
	// than DeviceIdleTimeout so a slow exchange never outlives a
	// connection the device would keep alive.
	Timeout time.Duration

	// DeviceIdleTimeout is the device's own idle-disconnect timeout. The
	// client drops connections idle longer than this instead of reusing a
	// socket the device has already abandoned.
	DeviceIdleTimeout time.Duration
}

// ClientStats tracks client counters.
type ClientStats struct {
	ReadCount  atomic.Uint64
	ErrorCount atomic.Uint64
}

// NewClient creates a Modbus client. The connection is not opened here.
func NewClient(config ClientConfig, logger zerolog.Logger, metricsReg *metrics.Registry) (*Client, error) {
	if config.Address == "" {
		return nil, domain.ErrHostRequired
	}
	if config.UnitID == 0 || config.UnitID > 247 {
		return nil, domain.ErrInvalidUnitID
	}
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}
	if config.DeviceIdleTimeout == 0 {
		config.DeviceIdleTimeout = 10 * time.Second
	}
	if config.Timeout >= config.DeviceIdleTimeout {
		return nil, domain.ErrTimeoutTooLong
	}

	c := &Client{
		config:  config,
		logger:  logger.With().Str("component", "modbus-client").Str("address", config.Address).Logger(),
		metrics: metricsReg,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("modbus-%s", config.Address),
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Modbus circuit breaker state changed")
		},
	})
	return c, nil
}

// ReadBlock reads count holding registers starting at start and returns the
// raw 16-bit words. On a transport failure the connection is dropped and the
// error returned; the caller's next scheduled call is the retry.
func (c *Client) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	if count < 1 || count > 125 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRegisterCount, count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.readHoldingRegisters(start, count)
	})
	if err != nil {
		c.stats.ErrorCount.Add(1)
		if c.metrics != nil {
			c.metrics.ConnectionErrors.Inc()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCircuitBreakerOpen, err)
		}
		return nil, err
	}

	c.stats.ReadCount.Add(1)
	return result.([]uint16), nil
}

// readHoldingRegisters performs one connect-if-needed read exchange.
func (c *Client) readHoldingRegisters(start, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	raw, err := c.client.ReadHoldingRegisters(start, count)
	if err != nil {
		// Drop the connection; the next call reconnects.
		c.disconnectLocked()
		return nil, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}
	if len(raw) < int(count)*2 {
		c.disconnectLocked()
		return nil, fmt.Errorf("%w: short response (%d bytes)", domain.ErrReadFailed, len(raw))
	}

	return wordsFromBytes(raw[:int(count)*2]), nil
}

// connectLocked establishes the connection if it is not already open.
func (c *Client) connectLocked() error {
	if c.connected.Load() {
		return nil
	}

	if c.metrics != nil {
		c.metrics.ConnectionsTotal.Inc()
	}
	handler := modbus.NewTCPClientHandler(c.config.Address)
	handler.Timeout = c.config.Timeout
	handler.SlaveId = c.config.UnitID
	handler.IdleTimeout = c.config.DeviceIdleTimeout

	if err := handler.Connect(); err != nil {
		return err
	}

	c.handler = handler
	c.client = modbus.NewClient(handler)
	c.connected.Store(true)
	c.logger.Debug().Msg("Connected to device")
	return nil
}

// disconnectLocked closes the connection quietly.
func (c *Client) disconnectLocked() {
	if c.handler != nil {
		if err := c.handler.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing Modbus connection")
		}
	}
	c.handler = nil
	c.client = nil
	c.connected.Store(false)
}

// Close releases the connection on explicit shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	c.logger.Debug().Msg("Disconnected from device")
	return nil
}

// IsConnected reports whether the client currently holds an open connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns the read and error counters.
func (c *Client) Stats() (reads, errs uint64) {
	return c.stats.ReadCount.Load(), c.stats.ErrorCount.Load()
}

// HealthCheck reports the circuit breaker state for the health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

// wordsFromBytes converts the big-endian wire bytes into register words.
func wordsFromBytes(data []byte) []uint16 {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return words
}
