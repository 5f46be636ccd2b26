package domain

// Special states produced by sentinel values and decode anomalies.
const (
	StateOverRange     SpecialState = "over_range"     // temperature above measurable range
	StateUnderRange    SpecialState = "under_range"    // temperature below measurable range
	StateNoMeasurement SpecialState = "no_measurement" // probe not delivering a value
	StateInactive      SpecialState = "inactive"       // input not present on this model
	StateInitializing  SpecialState = "initializing"   // actuator still homing after power-up
	StateDisabled      SpecialState = "disabled"       // feature switched off on the device
	StateUnknown       SpecialState = "unknown"        // code not in the decode table
)

// temperatureSentinels are shared by both temperature probes. 45536 is
// -20000 seen through an unsigned register.
var temperatureSentinels = map[uint16]SpecialState{
	20000: StateOverRange,
	45536: StateUnderRange,
	20001: StateNoMeasurement,
	20002: StateInactive,
}

var unitStatusNames = map[uint16]string{
	0:  "power_start",
	1:  "idle_100",
	2:  "idle_0",
	3:  "lighting",
	4:  "control_start",
	5:  "burning_rising",
	6:  "burning_falling",
	7:  "refuel",
	8:  "ember",
	10: "not_lit",
	13: "overheated",
	14: "door_open_long",
	15: "test_mode",
	20: "temperature_fault",
}

// registerMap is the static TimNet 100/200 register table, addresses per the
// device manual. All registers live in one contiguous holding-register block.
var registerMap = []RegisterDefinition{
	{
		Address:   0x0000,
		Key:       "tt",
		Name:      "Temperature T1",
		Kind:      KindTemperature,
		Unit:      "°C",
		Divider:   10,
		Signed:    true,
		Sentinels: temperatureSentinels,
	},
	{
		Address:      0x0001,
		Key:          "tt2",
		Name:         "Temperature T2",
		Kind:         KindTemperature,
		Unit:         "°C",
		Divider:      10,
		Signed:       true,
		Sentinels:    temperatureSentinels,
		Model200Only: true,
	},
	{
		Address: 0x0002,
		Key:     "cas",
		Name:    "Combustion Time",
		Kind:    KindDuration,
		Unit:    "min",
		Divider: 60, // device reports seconds
	},
	{
		Address:   0x0003,
		Key:       "ser1",
		Name:      "Flap Position",
		Kind:      KindPercentage,
		Unit:      "%",
		Sentinels: map[uint16]SpecialState{255: StateInitializing},
	},
	{
		Address: 0x0004,
		Key:     "inp",
		Name:    "Door Switch",
		Kind:    KindBitfield, // plain flag: 0 closed, anything else open
	},
	{
		Address: 0x0005,
		Key:     "rezim",
		Name:    "Combustion Mode",
		Kind:    KindEnum,
		Enum:    map[uint16]string{1: "eco", 2: "standard", 3: "turbo"},
	},
	{
		Address: 0x0006,
		Key:     "palivo",
		Name:    "Fuel Type",
		Kind:    KindEnum,
		Enum:    map[uint16]string{1: "wood", 2: "briquettes"},
	},
	{
		Address: 0x0007,
		Key:     "priloz",
		Name:    "Refuel Offset",
		Kind:    KindEnum,
		Enum:    map[uint16]string{1: "-2", 2: "-1", 3: "standard", 4: "+1", 5: "+2"},
	},
	{
		Address:   0x0008,
		Key:       "sds",
		Name:      "SDS Sensitivity",
		Kind:      KindComposite,
		Sentinels: map[uint16]SpecialState{255: StateDisabled},
	},
	{
		Address: 0x0009,
		Key:     "barva",
		Name:    "Status Color",
		Kind:    KindEnum,
		Enum:    map[uint16]string{0: "none", 1: "yellow", 2: "green", 3: "red"},
	},
	{
		Address: 0x0010,
		Key:     "beep",
		Name:    "Sound Signalization",
		Kind:    KindEnum,
		Enum:    map[uint16]string{0: "off", 15: "on"},
	},
	{
		Address:      0x0011,
		Key:          "rele1",
		Name:         "Relay 1",
		Kind:         KindEnum,
		Enum:         map[uint16]string{0: "open", 1: "closed"},
		Sentinels:    map[uint16]SpecialState{20002: StateInactive},
		Model200Only: true,
	},
	{
		Address:      0x0012,
		Key:          "rele2",
		Name:         "Relay 2",
		Kind:         KindEnum,
		Enum:         map[uint16]string{0: "open", 1: "closed"},
		Sentinels:    map[uint16]SpecialState{20002: StateInactive},
		Model200Only: true,
	},
	{
		Address: 0x0013,
		Key:     "porucha",
		Name:    "Sensor Fault",
		Kind:    KindBitfield,
		Bits:    map[uint]string{0: "t1", 1: "t2", 3: "door"},
	},
	{
		Address: 0x0014,
		Key:     "stat",
		Name:    "Unit Status",
		Kind:    KindEnum,
		Enum:    unitStatusNames,
	},
	{
		Address: 0x0015,
		Key:     "p_life",
		Name:    "Total Refuel Count",
		Kind:    KindCounter,
	},
}

// Registers returns the static register map.
func Registers() []RegisterDefinition {
	defs := make([]RegisterDefinition, len(registerMap))
	copy(defs, registerMap)
	return defs
}

// BlockBounds returns the start address and count of the contiguous block
// covering every register in the map. Every definition's address must fall
// inside this block.
func BlockBounds(defs []RegisterDefinition) (start, count uint16) {
	if len(defs) == 0 {
		return 0, 0
	}
	start = defs[0].Address
	end := defs[0].Address
	for _, d := range defs[1:] {
		if d.Address < start {
			start = d.Address
		}
		if d.Address > end {
			end = d.Address
		}
	}
	return start, end - start + 1
}
