// Package domain contains the core business entities of the bridge:
// register definitions, decoded readings and the connection state model.
package domain

// RegisterKind determines which decode rule applies to a register.
type RegisterKind string

const (
	KindTemperature RegisterKind = "temperature"
	KindDuration    RegisterKind = "duration"
	KindPercentage  RegisterKind = "percentage"
	KindEnum        RegisterKind = "enum"
	KindBitfield    RegisterKind = "bitfield"
	KindComposite   RegisterKind = "composite"
	KindCounter     RegisterKind = "counter"
)

// RegisterDefinition describes a single holding register of the device.
// The full set is the static register map; definitions are immutable after
// process start.
type RegisterDefinition struct {
	// Address is the holding register address
	Address uint16

	// Key is the stable identifier used by the value store, API and MQTT
	Key string

	// Name is a human-readable name for the reading
	Name string

	// Kind selects the decode rule
	Kind RegisterKind

	// Unit is the engineering unit of the decoded value
	Unit string

	// Divider scales the raw integer (raw / Divider); 0 means passthrough
	Divider float64

	// Signed interprets the raw word as int16 before scaling
	Signed bool

	// Sentinels maps reserved raw values to named special states.
	// A match short-circuits the general decode rule.
	Sentinels map[uint16]SpecialState

	// Enum maps raw codes to named states for KindEnum registers
	Enum map[uint16]string

	// Bits names the individual flags of a KindBitfield register.
	// A nil map means the register is a plain on/off flag (raw != 0).
	Bits map[uint]string

	// Model200Only marks registers that only exist on the TimNet 200
	Model200Only bool
}

// SubKeys returns the value-store keys a definition produces. Composite
// registers expose one reading per sub-value, everything else exposes one.
func (d *RegisterDefinition) SubKeys() []string {
	if d.Kind == KindComposite {
		return []string{d.Key + "_level", d.Key + "_active"}
	}
	return []string{d.Key}
}
