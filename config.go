// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Register configuration files are JSON in one of two shapes, which may be
// combined in one file:
//
// The minimal, backward-compatible shape maps register-kind keys to
// address/value pairs and gets default typing (UINT16 for hr/ir, BOOLEAN
// for co/di):
//
//	{"hr": {"0": 12345, "1": 54321}, "co": {"3": true}}
//
// The rich shape adds a "registers" array whose entries carry the full
// per-register schema:
//
//	{"registers": [{"address": 10, "register_type": "HOLDING_REGISTER",
//	  "data_type": "FLOAT32", "value": 21.5, "scaling_factor": 0.1,
//	  "byte_order": "BIG", "word_order": "LITTLE",
//	  "error_behavior": {"mode": "fail_after_reads", "threshold": 3}}]}
type fileConfig struct {
	HR map[string]any `json:"hr,omitempty"`
	IR map[string]any `json:"ir,omitempty"`
	CO map[string]any `json:"co,omitempty"`
	DI map[string]any `json:"di,omitempty"`

	Registers []registerEntry `json:"registers,omitempty"`
}

type registerEntry struct {
	Address       int            `json:"address"`
	Name          string         `json:"name,omitempty"`
	Value         any            `json:"value"`
	DataType      string         `json:"data_type,omitempty"`
	RegisterType  string         `json:"register_type"`
	ErrorBehavior *behaviorEntry `json:"error_behavior,omitempty"`
	Description   string         `json:"description,omitempty"`
	ScalingFactor float64        `json:"scaling_factor,omitempty"`
	Offset        float64        `json:"offset,omitempty"`
	Unit          string         `json:"unit,omitempty"`
	ByteOrder     string         `json:"byte_order,omitempty"`
	WordOrder     string         `json:"word_order,omitempty"`
	Length        int            `json:"length,omitempty"`
}

type behaviorEntry struct {
	Mode          string  `json:"mode"`
	ExceptionCode uint8   `json:"exception_code,omitempty"`
	Threshold     int     `json:"threshold,omitempty"`
	Probability   float64 `json:"probability,omitempty"`
	Min           float64 `json:"min,omitempty"`
	Max           float64 `json:"max,omitempty"`
}

// LoadConfig reads a register configuration file and builds a populated
// store. Any malformed entry, unknown data type, or duplicate address aborts
// the load; a partially built store is never returned.
func LoadConfig(path string, opts ...StoreOption) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	store, err := ParseConfig(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// ParseConfig builds a populated store from raw configuration JSON.
func ParseConfig(data []byte, opts ...StoreOption) (*Store, error) {
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	store := NewStore(opts...)

	minimal := []struct {
		kind   RegisterKind
		values map[string]any
	}{
		{Coil, cfg.CO},
		{DiscreteInput, cfg.DI},
		{InputRegister, cfg.IR},
		{HoldingRegister, cfg.HR},
	}
	for _, m := range minimal {
		for key, value := range m.values {
			addr, err := parseAddress(key)
			if err != nil {
				return nil, err
			}
			if err := store.AddRegister(RegisterConfig{
				Kind:    m.kind,
				Address: addr,
				Value:   value,
			}); err != nil {
				return nil, fmt.Errorf("%s %d: %w", m.kind.Key(), addr, err)
			}
		}
	}

	for _, e := range cfg.Registers {
		rc, err := e.toConfig()
		if err != nil {
			return nil, err
		}
		if err := store.AddRegister(rc); err != nil {
			return nil, fmt.Errorf("%s %d: %w", rc.Kind.Key(), rc.Address, err)
		}
	}

	return store, nil
}

func parseAddress(key string) (uint16, error) {
	addr, err := strconv.ParseUint(key, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: address %q", ErrInvalidConfig, key)
	}
	return uint16(addr), nil
}

func (e registerEntry) toConfig() (RegisterConfig, error) {
	if e.Address < 0 || e.Address > 65535 {
		return RegisterConfig{}, fmt.Errorf("%w: address %d", ErrInvalidConfig, e.Address)
	}
	kind, err := ParseRegisterKind(e.RegisterType)
	if err != nil {
		return RegisterConfig{}, err
	}

	rc := RegisterConfig{
		Kind:        kind,
		Address:     uint16(e.Address),
		Name:        e.Name,
		Description: e.Description,
		Unit:        e.Unit,
		DataType:    e.DataType,
		Value:       e.Value,
		Scaling:     ScalingSpec{Factor: e.ScalingFactor, Offset: e.Offset},
		ByteOrder:   e.ByteOrder,
		WordOrder:   e.WordOrder,
		Length:      e.Length,
	}
	if e.ErrorBehavior != nil {
		b, err := e.ErrorBehavior.toBehavior()
		if err != nil {
			return RegisterConfig{}, fmt.Errorf("register %d: %w", e.Address, err)
		}
		rc.Behavior = b
	}
	return rc, nil
}

func (b behaviorEntry) toBehavior() (ErrorBehavior, error) {
	kind, err := ParseBehaviorKind(b.Mode)
	if err != nil {
		return ErrorBehavior{}, err
	}
	return ErrorBehavior{
		Kind:        kind,
		Code:        ExceptionCode(b.ExceptionCode),
		Threshold:   b.Threshold,
		Probability: b.Probability,
		Min:         b.Min,
		Max:         b.Max,
	}, nil
}

// SaveConfig writes the store's registers back out as configuration JSON.
// Registers that carry nothing beyond a default-typed value land in the
// minimal kind-keyed maps; everything else is written as a rich entry.
func SaveConfig(store *Store, path string) error {
	data, err := MarshalConfig(store)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalConfig serializes the store's registers as configuration JSON.
func MarshalConfig(store *Store) ([]byte, error) {
	cfg := fileConfig{}
	maps := map[RegisterKind]*map[string]any{
		Coil:            &cfg.CO,
		DiscreteInput:   &cfg.DI,
		InputRegister:   &cfg.IR,
		HoldingRegister: &cfg.HR,
	}

	for _, kind := range RegisterKinds {
		for _, rc := range store.Definitions(kind) {
			if isMinimal(rc) {
				m := maps[kind]
				if *m == nil {
					*m = make(map[string]any)
				}
				(*m)[strconv.Itoa(int(rc.Address))] = rc.Value
				continue
			}
			entry := registerEntry{
				Address:       int(rc.Address),
				Name:          rc.Name,
				Value:         rc.Value,
				DataType:      rc.DataType,
				RegisterType:  rc.Kind.String(),
				Description:   rc.Description,
				ScalingFactor: rc.Scaling.Factor,
				Offset:        rc.Scaling.Offset,
				Unit:          rc.Unit,
				ByteOrder:     rc.ByteOrder,
				WordOrder:     rc.WordOrder,
			}
			if dt, err := ParseDataType(rc.DataType); err == nil && dt == STRING {
				entry.Length = rc.Length
			}
			if rc.Behavior.Kind != BehaviorNone {
				entry.ErrorBehavior = &behaviorEntry{
					Mode:          rc.Behavior.Kind.String(),
					ExceptionCode: uint8(rc.Behavior.Code),
					Threshold:     rc.Behavior.Threshold,
					Probability:   rc.Behavior.Probability,
					Min:           rc.Behavior.Min,
					Max:           rc.Behavior.Max,
				}
			}
			cfg.Registers = append(cfg.Registers, entry)
		}
	}

	return json.MarshalIndent(cfg, "", "    ")
}

// isMinimal reports whether a register round-trips through the minimal
// kind-keyed shape without losing configuration.
func isMinimal(rc RegisterConfig) bool {
	dt, err := ParseDataType(rc.DataType)
	if err != nil {
		return false
	}
	if rc.Kind.Bit() {
		if dt != BOOLEAN {
			return false
		}
	} else if dt != UINT16 {
		return false
	}
	return rc.Name == "" && rc.Description == "" && rc.Unit == "" &&
		rc.Scaling.Identity() &&
		rc.ByteOrder == "BIG" && rc.WordOrder == "BIG" &&
		rc.Behavior.Kind == BehaviorNone
}
