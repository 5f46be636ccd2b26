package domain

import (
	"encoding/json"
	"time"
)

// SpecialState is a named non-numeric state a register can report instead of
// a measurement, either through a sentinel value or a decode anomaly.
type SpecialState string

// ConnectionState is the liveness signal exposed to collaborators.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Reading is the decoded value of one register key. Instances live in the
// value store and are only replaced after a successful decode; a failed poll
// leaves the previous reading in place and marks it stale.
type Reading struct {
	// Key identifies the reading within the value store
	Key string `json:"key"`

	// Name is a human-readable name for the reading
	Name string `json:"name"`

	// Value is the typed decoded value; nil when State is set
	Value interface{} `json:"value"`

	// State is the named special state, empty for numeric readings
	State SpecialState `json:"state,omitempty"`

	// Raw is the raw register word the reading was decoded from
	Raw uint16 `json:"raw"`

	// Unit is the engineering unit
	Unit string `json:"unit,omitempty"`

	// Timestamp is when the raw word was acquired from the device
	Timestamp time.Time `json:"timestamp"`

	// Stale marks a reading retained across one or more failed polls
	Stale bool `json:"stale"`
}

// IsSpecial reports whether the reading carries a named state instead of a
// typed value.
func (r Reading) IsSpecial() bool {
	return r.State != ""
}

// MQTTPayload is the compact payload published per reading. Short field
// names keep the on-wire size down.
type MQTTPayload struct {
	Value     interface{}  `json:"v"`
	State     SpecialState `json:"s,omitempty"`
	Raw       uint16       `json:"raw"`
	Unit      string       `json:"u,omitempty"`
	Stale     bool         `json:"stale,omitempty"`
	Timestamp int64        `json:"ts"` // unix milliseconds
}

// ToJSON serializes the reading into its MQTT payload form.
func (r Reading) ToJSON() ([]byte, error) {
	return json.Marshal(MQTTPayload{
		Value:     r.Value,
		State:     r.State,
		Raw:       r.Raw,
		Unit:      r.Unit,
		Stale:     r.Stale,
		Timestamp: r.Timestamp.UnixMilli(),
	})
}

// RawSample is one block read: the raw words of a single transaction tagged
// with the starting address and acquisition time. Owned transiently by the
// coordinator during a poll cycle.
type RawSample struct {
	Start      uint16
	Words      []uint16
	AcquiredAt time.Time
}

// WordAt returns the raw word at the given register address.
func (s *RawSample) WordAt(address uint16) (uint16, bool) {
	if address < s.Start || int(address-s.Start) >= len(s.Words) {
		return 0, false
	}
	return s.Words[address-s.Start], true
}
