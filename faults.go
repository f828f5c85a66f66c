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
	"fmt"
	"math/rand"
	"strings"
)

// BehaviorKind enumerates the configurable per-register error behaviors.
type BehaviorKind uint8

const (
	BehaviorNone BehaviorKind = iota
	BehaviorAlwaysFail
	BehaviorFailAfterReads
	BehaviorFailAfterWrites
	BehaviorIntermittent
	BehaviorStale
	BehaviorOutOfRange
	BehaviorNoResponse
)

// String returns the string representation of the behavior kind.
func (b BehaviorKind) String() string {
	switch b {
	case BehaviorNone:
		return "none"
	case BehaviorAlwaysFail:
		return "always_fail"
	case BehaviorFailAfterReads:
		return "fail_after_reads"
	case BehaviorFailAfterWrites:
		return "fail_after_writes"
	case BehaviorIntermittent:
		return "intermittent"
	case BehaviorStale:
		return "stale"
	case BehaviorOutOfRange:
		return "out_of_range"
	case BehaviorNoResponse:
		return "no_response"
	default:
		return fmt.Sprintf("unknown behavior (%d)", uint8(b))
	}
}

// ParseBehaviorKind parses a behavior kind name.
func ParseBehaviorKind(s string) (BehaviorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "normal":
		return BehaviorNone, nil
	case "always_fail":
		return BehaviorAlwaysFail, nil
	case "fail_after_reads":
		return BehaviorFailAfterReads, nil
	case "fail_after_writes":
		return BehaviorFailAfterWrites, nil
	case "intermittent":
		return BehaviorIntermittent, nil
	case "stale":
		return BehaviorStale, nil
	case "out_of_range":
		return BehaviorOutOfRange, nil
	case "no_response":
		return BehaviorNoResponse, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBehavior, s)
	}
}

// ErrorBehavior configures deliberate failure of a single register, for
// negative testing of Modbus clients. The zero value behaves normally.
type ErrorBehavior struct {
	Kind BehaviorKind

	// Code is the exception code returned when the behavior denies an
	// access. Zero selects the default for the behavior: IllegalDataValue
	// for OutOfRange, ServerDeviceFailure otherwise.
	Code ExceptionCode

	// Threshold is N for FailAfterNReads, FailAfterNWrites and StaleValue.
	Threshold int

	// Probability is the per-access denial probability for Intermittent.
	Probability float64

	// Min and Max bound the decoded application value for OutOfRange writes.
	Min float64
	Max float64
}

// exception resolves the effective exception code for a denial.
func (b ErrorBehavior) exception() ExceptionCode {
	if b.Code != 0 {
		return b.Code
	}
	if b.Kind == BehaviorOutOfRange {
		return ExceptionIllegalDataValue
	}
	return ExceptionServerDeviceFailure
}

// accessType distinguishes reads from writes for fault accounting.
type accessType uint8

const (
	accessRead accessType = iota
	accessWrite
)

// faultState is the per-register fault-injection state machine. It is owned
// by a single RegisterDefinition and mutated only under the store mutex, so
// the check-and-increment below is atomic with respect to the access that
// triggered it.
type faultState struct {
	behavior ErrorBehavior

	reads    int
	writes   int
	accesses int

	// frozen holds the register's word snapshot once StaleValue trips.
	frozen []uint16
}

// gate runs the access through the configured behavior, updating counters.
// A non-nil return denies the access: a *ModbusError carries the exception
// to answer with, ErrNoResponse suppresses the answer entirely.
// OutOfRange is value-dependent and handled separately by the store's write
// path; it never denies here.
func (s *faultState) gate(acc accessType, rng *rand.Rand) error {
	s.accesses++
	if acc == accessRead {
		s.reads++
	} else {
		s.writes++
	}

	switch s.behavior.Kind {
	case BehaviorAlwaysFail:
		return NewModbusError(0, s.behavior.exception())
	case BehaviorFailAfterReads:
		if acc == accessRead && s.reads >= s.behavior.Threshold {
			return NewModbusError(0, s.behavior.exception())
		}
	case BehaviorFailAfterWrites:
		if acc == accessWrite && s.writes >= s.behavior.Threshold {
			return NewModbusError(0, s.behavior.exception())
		}
	case BehaviorIntermittent:
		if rng.Float64() < s.behavior.Probability {
			return NewModbusError(0, s.behavior.exception())
		}
	case BehaviorNoResponse:
		// A dead device: the request is counted but never answered,
		// reads and writes alike.
		return ErrNoResponse
	}
	return nil
}

// stale reports whether reads must be served from the frozen snapshot.
func (s *faultState) stale() bool {
	return s.behavior.Kind == BehaviorStale && s.frozen != nil
}

// freezeDue reports whether the StaleValue threshold has been reached and no
// snapshot has been captured yet. The store captures the snapshot at the end
// of the triggering access, so the frozen value is the one that access left
// behind.
func (s *faultState) freezeDue() bool {
	return s.behavior.Kind == BehaviorStale && s.frozen == nil &&
		s.accesses >= s.behavior.Threshold
}

// reset clears all counters and the frozen snapshot, restoring normal
// operation without touching the configured behavior.
func (s *faultState) reset() {
	s.reads = 0
	s.writes = 0
	s.accesses = 0
	s.frozen = nil
}
