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
	"testing"
)

func TestFault_AlwaysFail(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorAlwaysFail},
	})

	for i := 0; i < 3; i++ {
		_, err := store.ReadWords(HoldingRegister, 0, 1)
		if !IsServerDeviceFailure(err) {
			t.Fatalf("Read %d: expected ServerDeviceFailure, got %v", i, err)
		}
	}
	err := store.WriteWords(HoldingRegister, 0, []uint16{2})
	if !IsServerDeviceFailure(err) {
		t.Fatalf("Write: expected ServerDeviceFailure, got %v", err)
	}
}

func TestFault_CustomExceptionCode(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorAlwaysFail, Code: ExceptionIllegalDataValue},
	})

	_, err := store.ReadWords(HoldingRegister, 0, 1)
	if !IsIllegalDataValue(err) {
		t.Fatalf("Expected IllegalDataValue, got %v", err)
	}
}

func TestFault_FailAfterReads(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(99),
		Behavior: ErrorBehavior{Kind: BehaviorFailAfterReads, Threshold: 3},
	})

	// Reads 1 and 2 succeed
	for i := 1; i <= 2; i++ {
		if _, err := store.ReadWords(HoldingRegister, 0, 1); err != nil {
			t.Fatalf("Read %d should succeed: %v", i, err)
		}
	}
	// Read 3 and beyond fail
	for i := 3; i <= 5; i++ {
		_, err := store.ReadWords(HoldingRegister, 0, 1)
		if !IsServerDeviceFailure(err) {
			t.Fatalf("Read %d: expected ServerDeviceFailure, got %v", i, err)
		}
	}

	// Writes are unaffected
	if err := store.WriteWords(HoldingRegister, 0, []uint16{7}); err != nil {
		t.Fatalf("Write should succeed: %v", err)
	}

	// Resetting the counter restores normal reads
	if err := store.ResetFaultState(HoldingRegister, 0); err != nil {
		t.Fatalf("ResetFaultState failed: %v", err)
	}
	words, err := store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("Read after reset should succeed: %v", err)
	}
	if words[0] != 7 {
		t.Errorf("Expected 7, got %d", words[0])
	}
}

func TestFault_FailAfterWrites(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: Coil, Address: 0, Value: false,
		Behavior: ErrorBehavior{Kind: BehaviorFailAfterWrites, Threshold: 2},
	})

	if err := store.WriteBits(Coil, 0, []bool{true}); err != nil {
		t.Fatalf("Write 1 should succeed: %v", err)
	}
	err := store.WriteBits(Coil, 0, []bool{false})
	if !IsServerDeviceFailure(err) {
		t.Fatalf("Write 2: expected ServerDeviceFailure, got %v", err)
	}

	// The denied write left the coil untouched, and reads keep working
	bits, err := store.ReadBits(Coil, 0, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bits[0] {
		t.Error("Coil should still be true")
	}
}

func TestFault_Intermittent_Deterministic(t *testing.T) {
	// Two stores with the same seed see the same denial sequence
	sequence := func() []bool {
		store := NewStore(WithRandSeed(42))
		mustAdd(t, store, RegisterConfig{
			Kind: HoldingRegister, Address: 0, Value: uint16(1),
			Behavior: ErrorBehavior{Kind: BehaviorIntermittent, Probability: 0.5},
		})
		var out []bool
		for i := 0; i < 50; i++ {
			_, err := store.ReadWords(HoldingRegister, 0, 1)
			out = append(out, err != nil)
		}
		return out
	}

	a, b := sequence(), sequence()
	var denials int
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Access %d: sequences diverge with the same seed", i)
		}
		if a[i] {
			denials++
		}
	}
	// With p=0.5 over 50 draws both extremes are astronomically unlikely
	if denials == 0 || denials == 50 {
		t.Errorf("Expected a mix of outcomes, got %d denials", denials)
	}
}

func TestFault_IntermittentProbabilityBounds(t *testing.T) {
	store := NewStore()
	err := store.AddRegister(RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorIntermittent, Probability: 1.5},
	})
	if err == nil {
		t.Error("Expected error for probability outside [0,1]")
	}

	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 1, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorIntermittent, Probability: 0},
	})
	// Probability 0 never denies
	for i := 0; i < 20; i++ {
		if _, err := store.ReadWords(HoldingRegister, 1, 1); err != nil {
			t.Fatalf("p=0 should never deny: %v", err)
		}
	}
}

func TestFault_StaleValue(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(111),
		Behavior: ErrorBehavior{Kind: BehaviorStale, Threshold: 2},
	})

	// Accesses 1 and 2 serve live values; the snapshot freezes after access 2
	for i := 0; i < 2; i++ {
		words, err := store.ReadWords(HoldingRegister, 0, 1)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if words[0] != 111 {
			t.Errorf("Read %d: expected 111, got %d", i, words[0])
		}
	}

	// Writes still land in the backing store
	if err := store.WriteWords(HoldingRegister, 0, []uint16{222}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Reads keep serving the frozen 111
	words, err := store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if words[0] != 111 {
		t.Errorf("Expected frozen 111, got %d", words[0])
	}

	// Reset thaws the register and exposes the written value
	if err := store.ResetFaultState(HoldingRegister, 0); err != nil {
		t.Fatalf("ResetFaultState failed: %v", err)
	}
	words, err = store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("Read after reset failed: %v", err)
	}
	if words[0] != 222 {
		t.Errorf("Expected live 222, got %d", words[0])
	}
}

func TestFault_OutOfRange(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(50),
		Behavior: ErrorBehavior{Kind: BehaviorOutOfRange, Min: 0, Max: 100},
	})

	// In-range write succeeds
	if err := store.WriteWords(HoldingRegister, 0, []uint16{100}); err != nil {
		t.Fatalf("In-range write failed: %v", err)
	}

	// Out-of-range write denied, register unchanged
	err := store.WriteWords(HoldingRegister, 0, []uint16{101})
	if !IsIllegalDataValue(err) {
		t.Fatalf("Expected IllegalDataValue, got %v", err)
	}
	words, err := store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if words[0] != 100 {
		t.Errorf("Expected 100, got %d", words[0])
	}

	// Reads are never denied by OutOfRange
	if _, err := store.ReadWords(HoldingRegister, 0, 1); err != nil {
		t.Errorf("Read should succeed: %v", err)
	}
}

func TestFault_OutOfRange_Scaled(t *testing.T) {
	store := NewStore()
	// Bounds apply to the scaled application value, not the raw word
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, DataType: "UINT16",
		Value: 10.0, Scaling: ScalingSpec{Factor: 0.1},
		Behavior: ErrorBehavior{Kind: BehaviorOutOfRange, Min: 0, Max: 50},
	})

	// Raw 400 decodes to 40.0, inside [0,50]
	if err := store.WriteWords(HoldingRegister, 0, []uint16{400}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Raw 600 decodes to 60.0, outside the bounds
	err := store.WriteWords(HoldingRegister, 0, []uint16{600})
	if !IsIllegalDataValue(err) {
		t.Fatalf("Expected IllegalDataValue, got %v", err)
	}
}

func TestFault_MultiRegisterWrite_FirstDenialWins(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 0, Value: uint16(1)})
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 1, Value: uint16(2),
		Behavior: ErrorBehavior{Kind: BehaviorAlwaysFail},
	})
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 2, Value: uint16(3)})

	// The denial at address 1 fails the whole group; nothing is written
	err := store.WriteWords(HoldingRegister, 0, []uint16{10, 20, 30})
	if !IsServerDeviceFailure(err) {
		t.Fatalf("Expected ServerDeviceFailure, got %v", err)
	}

	store.SetErrorBehavior(HoldingRegister, 1, ErrorBehavior{})
	words, err := store.ReadWords(HoldingRegister, 0, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if words[0] != 1 || words[1] != 2 || words[2] != 3 {
		t.Errorf("Registers changed by denied group write: %v", words)
	}
}

func TestFault_SetErrorBehaviorResetsState(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorFailAfterReads, Threshold: 1},
	})

	_, err := store.ReadWords(HoldingRegister, 0, 1)
	if !IsServerDeviceFailure(err) {
		t.Fatalf("Expected denial, got %v", err)
	}

	// Swapping in a fresh threshold starts counting from zero
	if err := store.SetErrorBehavior(HoldingRegister, 0, ErrorBehavior{
		Kind: BehaviorFailAfterReads, Threshold: 3,
	}); err != nil {
		t.Fatalf("SetErrorBehavior failed: %v", err)
	}
	for i := 1; i <= 2; i++ {
		if _, err := store.ReadWords(HoldingRegister, 0, 1); err != nil {
			t.Fatalf("Read %d should succeed: %v", i, err)
		}
	}
}

func TestFault_NoResponse(t *testing.T) {
	store := NewStore()
	mustAdd(t, store, RegisterConfig{
		Kind: HoldingRegister, Address: 0, Value: uint16(1),
		Behavior: ErrorBehavior{Kind: BehaviorNoResponse},
	})
	mustAdd(t, store, RegisterConfig{Kind: HoldingRegister, Address: 1, Value: uint16(2)})

	// A dead device never answers, reads and writes alike
	_, err := store.ReadWords(HoldingRegister, 0, 1)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Read: expected ErrNoResponse, got %v", err)
	}
	err = store.WriteWords(HoldingRegister, 0, []uint16{9})
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Write: expected ErrNoResponse, got %v", err)
	}

	// A group touching the dead register is suppressed as a whole and
	// leaves every register untouched
	err = store.WriteWords(HoldingRegister, 0, []uint16{10, 20})
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Group write: expected ErrNoResponse, got %v", err)
	}
	if v, _ := store.Value(HoldingRegister, 1); v != uint16(2) {
		t.Errorf("Neighbor register changed by suppressed write: %v", v)
	}

	// Clearing the behavior revives the device
	store.SetErrorBehavior(HoldingRegister, 0, ErrorBehavior{})
	words, err := store.ReadWords(HoldingRegister, 0, 1)
	if err != nil {
		t.Fatalf("Read after clear failed: %v", err)
	}
	if words[0] != 1 {
		t.Errorf("Expected 1, got %d", words[0])
	}
}

func TestBehaviorKind_NoResponseRoundTrip(t *testing.T) {
	kind, err := ParseBehaviorKind("no_response")
	if err != nil {
		t.Fatalf("ParseBehaviorKind failed: %v", err)
	}
	if kind != BehaviorNoResponse {
		t.Errorf("Expected BehaviorNoResponse, got %v", kind)
	}
	if got := BehaviorNoResponse.String(); got != "no_response" {
		t.Errorf("Expected no_response, got %s", got)
	}
}
