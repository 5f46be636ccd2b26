package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/martinkalmus/ha-timnet/internal/domain"
)

// RegisterOverride adjusts one register definition from the built-in map.
// Matching is by register key.
type RegisterOverride struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name,omitempty"`
	Unit     string `yaml:"unit,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// OverridesFile is the top-level register-overrides configuration file.
type OverridesFile struct {
	Version string `yaml:"version"`

	// Model selects the controller variant; "timnet-100" drops the
	// registers only present on the TimNet 200
	Model string `yaml:"model,omitempty"`

	Registers []RegisterOverride `yaml:"registers"`
}

// LoadRegisterMap returns the built-in register map with the overrides
// from path applied. An empty path returns the built-in map unchanged.
func LoadRegisterMap(path string) ([]domain.RegisterDefinition, error) {
	defs := domain.Registers()
	if path == "" {
		return defs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var file OverridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file: %w", err)
	}

	return applyOverrides(defs, &file)
}

func applyOverrides(defs []domain.RegisterDefinition, file *OverridesFile) ([]domain.RegisterDefinition, error) {
	switch file.Model {
	case "", "timnet-200":
	case "timnet-100":
		trimmed := defs[:0]
		for _, def := range defs {
			if !def.Model200Only {
				trimmed = append(trimmed, def)
			}
		}
		defs = trimmed
	default:
		return nil, fmt.Errorf("unknown controller model %q", file.Model)
	}

	byKey := make(map[string]int, len(defs))
	for i, def := range defs {
		byKey[def.Key] = i
	}

	disabled := make(map[string]bool)
	for idx, ov := range file.Registers {
		i, ok := byKey[ov.Key]
		if !ok {
			return nil, fmt.Errorf("override %d references unknown register %q", idx, ov.Key)
		}
		if ov.Disabled {
			disabled[ov.Key] = true
			continue
		}
		if ov.Name != "" {
			defs[i].Name = ov.Name
		}
		if ov.Unit != "" {
			defs[i].Unit = ov.Unit
		}
	}

	if len(disabled) == 0 {
		return defs, nil
	}
	kept := make([]domain.RegisterDefinition, 0, len(defs))
	for _, def := range defs {
		if !disabled[def.Key] {
			kept = append(kept, def)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("overrides disable every register")
	}
	return kept, nil
}
