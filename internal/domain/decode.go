package domain

import (
	"math"
	"time"
)

// Decode converts one raw register word into its readings. It is pure and
// total: every word in [0, 65535] yields either a typed value or a named
// special state, never an error, so a bad code cannot abort the rest of a
// poll cycle. Sentinel tables take precedence over the general rule.
//
// Composite registers produce one reading per sub-value; everything else
// produces exactly one.
func Decode(def RegisterDefinition, raw uint16, ts time.Time) []Reading {
	base := Reading{
		Key:       def.Key,
		Name:      def.Name,
		Unit:      def.Unit,
		Raw:       raw,
		Timestamp: ts,
	}

	if state, ok := def.Sentinels[raw]; ok {
		if def.Kind == KindComposite {
			return compositeState(def, base, state)
		}
		base.State = state
		return []Reading{base}
	}

	switch def.Kind {
	case KindTemperature, KindDuration:
		base.Value = scaled(raw, def)

	case KindPercentage:
		v := int64(raw)
		if v > 100 {
			v = 100
		}
		base.Value = v

	case KindEnum:
		if name, ok := def.Enum[raw]; ok {
			base.Value = name
		} else {
			base.State = StateUnknown
		}

	case KindBitfield:
		base.Value, base.State = decodeBits(def, raw)

	case KindComposite:
		return decodeComposite(def, base, raw)

	case KindCounter:
		base.Value = int64(raw)

	default:
		base.State = StateUnknown
	}

	return []Reading{base}
}

// scaled applies the linear rule: raw (optionally as int16) divided by the
// register's divider, rounded to one decimal place.
func scaled(raw uint16, def RegisterDefinition) float64 {
	var v float64
	if def.Signed {
		v = float64(int16(raw))
	} else {
		v = float64(raw)
	}
	if def.Divider > 0 {
		v /= def.Divider
	}
	return math.Round(v*10) / 10
}

// decodeBits handles bitfield registers. With no named bits the register is
// a plain flag. With named bits the value is the list of set flags; a
// non-zero word matching none of them is an unknown code.
func decodeBits(def RegisterDefinition, raw uint16) (interface{}, SpecialState) {
	if def.Bits == nil {
		return raw != 0, ""
	}

	flags := make([]string, 0, len(def.Bits))
	for bit := uint(0); bit < 16; bit++ {
		if raw&(1<<bit) == 0 {
			continue
		}
		if name, ok := def.Bits[bit]; ok {
			flags = append(flags, name)
		}
	}
	if raw != 0 && len(flags) == 0 {
		return nil, StateUnknown
	}
	return flags, ""
}

// decodeComposite splits a tens/units encoded register into its two
// sub-readings: the tens digit is a signed level in [-2, +2] (raw 1..5),
// the units digit an active flag.
func decodeComposite(def RegisterDefinition, base Reading, raw uint16) []Reading {
	level := base
	level.Key = def.Key + "_level"
	level.Name = def.Name + " Level"

	tens := raw / 10
	if tens >= 1 && tens <= 5 {
		level.Value = int64(tens) - 3
	} else {
		level.State = StateUnknown
	}

	active := base
	active.Key = def.Key + "_active"
	active.Name = def.Name + " Active"
	active.Value = raw%10 == 1

	return []Reading{level, active}
}

// compositeState applies a sentinel match to every sub-reading of a
// composite register.
func compositeState(def RegisterDefinition, base Reading, state SpecialState) []Reading {
	level := base
	level.Key = def.Key + "_level"
	level.Name = def.Name + " Level"
	level.State = state

	active := base
	active.Key = def.Key + "_active"
	active.Name = def.Name + " Active"
	active.State = state

	return []Reading{level, active}
}
