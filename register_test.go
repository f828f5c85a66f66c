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
	"errors"
	"math"
	"sync"
	"testing"
)

func mustAdd(t *testing.T, store *Store, cfg RegisterConfig) {
	t.Helper()
	if err := store.AddRegister(cfg); err != nil {
		t.Fatalf("AddRegister(%s %d) failed: %v", cfg.Kind, cfg.Address, err)
	}
}

func TestStore_ReadWriteWords(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 0, Value: uint16(12345)})
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 1, Value: uint16(54321)})

	words, err := store.ReadWords(HoldingRegister, 0, 2)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 12345 || words[1] != 54321 {
		t.Errorf("Expected [12345 54321], got %v", words)
	}

	if err := store.WriteWords(HoldingRegister, 0, []uint16{100, 200}); err != nil {
		t.Fatalf("WriteWords failed: %v", err)
	}
	words, err = store.ReadWords(HoldingRegister, 0, 2)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 100 || words[1] != 200 {
		t.Errorf("Expected [100 200], got %v", words)
	}
}

func TestStore_ReadWriteBits(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: Coil, Address: 10, Value: true})
	mustAdd(t, store, RegisterConfig{Kind: Coil, Address: 11, Value: false})

	bits, err := store.ReadBits(Coil, 10, 2)
	if err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}
	if !bits[0] || bits[1] {
		t.Errorf("Expected [true false], got %v", bits)
	}

	if err := store.WriteBits(Coil, 10, []bool{false, true}); err != nil {
		t.Fatalf("WriteBits failed: %v", err)
	}
	bits, err = store.ReadBits(Coil, 10, 2)
	if err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}
	if bits[0] || !bits[1] {
		t.Errorf("Expected [false true], got %v", bits)
	}
}

func TestStore_UnmappedAddress(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 0, Value: uint16(1)})
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 1, Value: uint16(2)})

	// Range extends past the defined registers
	_, err := store.ReadWords(HoldingRegister, 0, 3)
	if !IsIllegalDataAddress(err) {
		t.Fatalf("Expected IllegalDataAddress, got %v", err)
	}

	// A failed write must leave everything untouched
	err = store.WriteWords(HoldingRegister, 1, []uint16{777, 888})
	if !IsIllegalDataAddress(err) {
		t.Fatalf("Expected IllegalDataAddress, got %v", err)
	}
	words, err := store.ReadWords(HoldingRegister, 0, 2)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 1 || words[1] != 2 {
		t.Errorf("Registers changed by failed write: %v", words)
	}
}

func TestStore_ReadOnlyKinds(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: InputRegister, Address: 0, Value: uint16(5000)})
	mustAdd(t, store, RegisterConfig{Kind: DiscreteInput, Address: 0, Value: true})

	err := store.WriteWords(InputRegister, 0, []uint16{1})
	if !IsIllegalFunction(err) {
		t.Errorf("Input register write: expected IllegalFunction, got %v", err)
	}

	err = store.WriteBits(DiscreteInput, 0, []bool{false})
	if !IsIllegalFunction(err) {
		t.Errorf("Discrete input write: expected IllegalFunction, got %v", err)
	}

	// Reads still work
	if _, err := store.ReadWords(InputRegister, 0, 1); err != nil {
		t.Errorf("Input register read failed: %v", err)
	}
	if _, err := store.ReadBits(DiscreteInput, 0, 1); err != nil {
		t.Errorf("Discrete input read failed: %v", err)
	}
}

func TestStore_DuplicateRegister(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 0, DataType: "UINT32", Value: uint32(1)})

	// Address 1 is covered by the UINT32 at 0
	err := store.AddRegister(RegisterConfig{Kind: HoldingRegister, Address: 1, Value: uint16(2)})
	if !errors.Is(err, ErrDuplicateRegister) {
		t.Errorf("Expected ErrDuplicateRegister, got %v", err)
	}

	// Same address on a different kind is fine
	if err := store.AddRegister(RegisterConfig{Kind: InputRegister, Address: 0, Value: uint16(3)}); err != nil {
		t.Errorf("Different kind should not collide: %v", err)
	}
}

func TestStore_MultiWordRegister(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 100, DataType: "FLOAT32", Value: 21.5,
	})

	// 21.5 = 0x41AC0000, big/big
	words, err := store.ReadWords(HoldingRegister, 100, 2)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 0x41AC || words[1] != 0x0000 {
		t.Errorf("Expected [41AC 0000], got [%04X %04X]", words[0], words[1])
	}

	// Partial reads of a multi-word register are still served
	words, err = store.ReadWords(HoldingRegister, 101, 1)
	if err != nil {
		t.Fatalf("Partial read failed: %v", err)
	}
	if words[0] != 0x0000 {
		t.Errorf("Expected 0000, got %04X", words[0])
	}

	// Write new raw words, read the typed value back
	bits := math.Float32bits(100.25)
	if err := store.WriteWords(HoldingRegister, 100, []uint16{uint16(bits >> 16), uint16(bits)}); err != nil {
		t.Fatalf("WriteWords failed: %v", err)
	}
	v, err := store.Value(HoldingRegister, 100)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != float32(100.25) {
		t.Errorf("Expected 100.25, got %v", v)
	}
}

func TestStore_Scaling(t *testing.T) {
	store := NewStore()
	// Raw 215 with factor 0.1 reads as 21.5
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, DataType: "UINT16",
		Value: 21.5, Scaling: ScalingSpec{Factor: 0.1},
	})

	words, err := store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 215 {
		t.Errorf("Raw word: expected 215, got %d", words[0])
	}

	v, err := store.Value(HoldingRegister, 0)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != 21.5 {
		t.Errorf("Scaled value: expected 21.5, got %v", v)
	}

	// Protocol writes store raw words; the scaled view follows
	if err := store.WriteWords(HoldingRegister, 0, []uint16{300}); err != nil {
		t.Fatalf("WriteWords failed: %v", err)
	}
	v, err = store.Value(HoldingRegister, 0)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != 30.0 {
		t.Errorf("Scaled value: expected 30, got %v", v)
	}
}

func TestStore_ScalingNonNumeric(t *testing.T) {
	store := NewStore()
	err := store.AddRegister(RegisterConfig{
		Kind: HoldingRegister, Address: 0, DataType: "STRING",
		Value: "abc", Scaling: ScalingSpec{Factor: 2},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestStore_BitKindsRejectWordTypes(t *testing.T) {
	store := NewStore()
	err := store.AddRegister(RegisterConfig{
		Kind: Coil, Address: 0, DataType: "UINT16", Value: uint16(1),
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestStore_StringRegister(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, DataType: "STRING",
		Value: "pump", Length: 4,
	})

	words, err := store.ReadWords(HoldingRegister, 0, 4)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	// "pump" packs into 2 words, the rest is fill
	if words[0] != 0x7075 || words[1] != 0x6D70 || words[2] != 0 || words[3] != 0 {
		t.Errorf("Unexpected words: %04X", words)
	}

	v, err := store.Value(HoldingRegister, 0)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "pump" {
		t.Errorf("Expected 'pump', got %q", v)
	}

	// SetValue pads shorter strings, rejects longer ones
	if err := store.SetValue(HoldingRegister, 0, "ok"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, _ = store.Value(HoldingRegister, 0)
	if v != "ok" {
		t.Errorf("Expected 'ok', got %q", v)
	}

	err = store.SetValue(HoldingRegister, 0, "overlong name")
	if !errors.Is(err, ErrWidthMismatch) {
		t.Errorf("Expected ErrWidthMismatch, got %v", err)
	}
}

func TestStore_OrderOverride(t *testing.T) {
	store := NewStore(WithDefaultOrders(ByteOrderBig, WordOrderBig))
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, DataType: "UINT32",
		Value: uint32(0x12345678), WordOrder: "LITTLE",
	})
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 2, DataType: "UINT32",
		Value: uint32(0x12345678),
	})

	words, err := store.ReadWords(HoldingRegister, 0, 4)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	// Register 0 overrides to little word order, register 2 uses the default
	if words[0] != 0x5678 || words[1] != 0x1234 {
		t.Errorf("Override register: expected [5678 1234], got [%04X %04X]", words[0], words[1])
	}
	if words[2] != 0x1234 || words[3] != 0x5678 {
		t.Errorf("Default register: expected [1234 5678], got [%04X %04X]", words[2], words[3])
	}
}

func TestStore_SetValue(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: InputRegister, Address: 0, Value: uint16(1)})

	// SetValue works on read-only kinds: it is the configuration path
	if err := store.SetValue(InputRegister, 0, uint16(42)); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	words, err := store.ReadWords(InputRegister, 0, 1)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	if words[0] != 42 {
		t.Errorf("Expected 42, got %d", words[0])
	}

	err = store.SetValue(InputRegister, 5, uint16(1))
	if !errors.Is(err, ErrRegisterNotFound) {
		t.Errorf("Expected ErrRegisterNotFound, got %v", err)
	}
}

func TestStore_Snapshot(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 5, Name: "temperature", Unit: "degC",
		DataType: "UINT16", Value: 21.5, Scaling: ScalingSpec{Factor: 0.1},
	})
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 0, Value: uint16(7)})

	snaps, err := store.Snapshot(HoldingRegister)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	// Ordered by address
	if snaps[0].Address != 0 || snaps[1].Address != 5 {
		t.Errorf("Snapshots out of order: %v", snaps)
	}
	if snaps[1].Name != "temperature" || snaps[1].Unit != "degC" {
		t.Errorf("Metadata lost: %+v", snaps[1])
	}
	if snaps[1].Value != 21.5 {
		t.Errorf("Expected scaled 21.5, got %v", snaps[1].Value)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore()
	for addr := uint16(0); addr < 10; addr++ {
		mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: addr, Value: uint16(0)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			addr := uint16(g % 10)
			for i := 0; i < 200; i++ {
				store.WriteWords(HoldingRegister, addr, []uint16{uint16(i)})
				store.ReadWords(HoldingRegister, 0, 10)
			}
		}(g)
	}
	wg.Wait()

	// Final values must be complete writes, never torn
	words, err := store.ReadWords(HoldingRegister, 0, 10)
	if err != nil {
		t.Fatalf("ReadWords failed: %v", err)
	}
	for i, w := range words {
		if w >= 200 {
			t.Errorf("words[%d] = %d, outside any written value", i, w)
		}
	}
}
