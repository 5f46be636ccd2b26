package domain

import "errors"

// Connection errors. All of these are recoverable: the coordinator retains
// last-known values and retries on the next scheduled tick.
var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrReadFailed         = errors.New("read operation failed")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// MQTT publisher errors.
var (
	ErrMQTTConnectionFailed = errors.New("mqtt connection failed")
	ErrMQTTNotConnected     = errors.New("mqtt client not connected")
	ErrMQTTPublishFailed    = errors.New("mqtt publish failed")
)

// Configuration errors.
var (
	ErrHostRequired         = errors.New("device host is required")
	ErrInvalidUnitID        = errors.New("invalid unit ID")
	ErrScanIntervalTooShort = errors.New("scan interval must be at least 1s")
	ErrTimeoutTooLong       = errors.New("read timeout must be shorter than the device idle timeout")
	ErrInvalidRegisterCount = errors.New("invalid register count")
)
