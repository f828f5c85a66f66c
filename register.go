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
	"math"
	"math/rand"
	"sort"
	"sync"
)

// RegisterConfig describes a single register definition to be added to a
// Store. Optional fields and their defaults:
//
//   - DataType: "" means UINT16 for word kinds, BOOLEAN for bit kinds
//   - Value: nil means the type's zero value
//   - Scaling: the zero ScalingSpec means identity
//   - ByteOrder/WordOrder: "" means the store-wide default; an explicit
//     value always overrides the default
//   - Behavior: the zero ErrorBehavior means normal operation
//   - Length: STRING only, width in words; 0 derives it from Value
type RegisterConfig struct {
	Kind        RegisterKind
	Address     uint16
	Name        string
	Description string
	Unit        string
	DataType    string
	Value       any
	Scaling     ScalingSpec
	ByteOrder   string
	WordOrder   string
	Behavior    ErrorBehavior
	Length      int
}

// RegisterDefinition is a fully resolved register: its identity, typed-value
// configuration, raw word storage and fault-injection state. Definitions are
// owned by a Store and mutated only under its lock.
type RegisterDefinition struct {
	Kind        RegisterKind
	Address     uint16
	Name        string
	Description string
	Unit        string
	DataType    DataType
	Scaling     ScalingSpec
	ByteOrder   ByteOrder
	WordOrder   WordOrder

	words []uint16
	fault faultState
}

// WordWidth returns the number of consecutive addresses the definition
// occupies.
func (d *RegisterDefinition) WordWidth() int {
	return len(d.words)
}

// RegisterSnapshot is the application-facing view of one register: the
// decoded value with scaling applied, as shown by configuration frontends.
type RegisterSnapshot struct {
	Address  uint16
	Name     string
	Kind     RegisterKind
	DataType DataType
	Value    any
	Unit     string
	Behavior BehaviorKind
}

// cell maps one address back to its owning definition.
type cell struct {
	def *RegisterDefinition
	idx int
}

// Store holds the full addressable register space per register kind and is
// the single synchronization point for protocol access, configuration edits
// and fault-injection state. All multi-word operations are atomic: they
// validate the whole range, then either apply completely or not at all.
type Store struct {
	mu    sync.Mutex
	rng   *rand.Rand
	defBO ByteOrder
	defWO WordOrder

	defs  [4]map[uint16]*RegisterDefinition
	cells [4]map[uint16]*cell
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*Store)

// WithRandSeed seeds the RNG driving IntermittentFail draws, making them
// deterministic for tests.
func WithRandSeed(seed int64) StoreOption {
	return func(s *Store) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithDefaultOrders sets the store-wide default byte and word order, applied
// to registers that do not declare their own.
func WithDefaultOrders(bo ByteOrder, wo WordOrder) StoreOption {
	return func(s *Store) {
		s.defBO = bo
		s.defWO = wo
	}
}

// NewStore creates an empty register store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for k := range s.defs {
		s.defs[k] = make(map[uint16]*RegisterDefinition)
		s.cells[k] = make(map[uint16]*cell)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return s
}

// AddRegister resolves a RegisterConfig and allocates the definition.
// It fails if any covered address is already allocated, if the data type is
// illegal for the kind, or if scaling is configured for a non-numeric type.
func (s *Store) AddRegister(cfg RegisterConfig) error {
	def, err := s.resolve(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := int(def.Kind)
	width := len(def.words)
	if int(def.Address)+width > 65536 {
		return fmt.Errorf("%w: %s %d spans past address 65535",
			ErrInvalidConfig, def.Kind, def.Address)
	}
	for i := 0; i < width; i++ {
		a := def.Address + uint16(i)
		if c, ok := s.cells[k][a]; ok {
			return fmt.Errorf("%w: %s %d overlaps definition at %d",
				ErrDuplicateRegister, def.Kind, a, c.def.Address)
		}
	}

	s.defs[k][def.Address] = def
	for i := 0; i < width; i++ {
		s.cells[k][def.Address+uint16(i)] = &cell{def: def, idx: i}
	}
	return nil
}

// resolve turns a RegisterConfig into a RegisterDefinition, applying
// defaults and encoding the initial value.
func (s *Store) resolve(cfg RegisterConfig) (*RegisterDefinition, error) {
	dtName := cfg.DataType
	if dtName == "" && cfg.Kind.Bit() {
		dtName = "BOOLEAN"
	}
	dt, err := ParseDataType(dtName)
	if err != nil {
		return nil, err
	}
	if cfg.Kind.Bit() && dt != BOOLEAN {
		return nil, fmt.Errorf("%w: %s registers only hold BOOLEAN, got %s",
			ErrInvalidConfig, cfg.Kind, dt)
	}
	if !dt.Numeric() && !cfg.Scaling.Identity() {
		return nil, fmt.Errorf("%w: scaling is not applicable to %s",
			ErrInvalidConfig, dt)
	}

	bo := s.defBO
	if cfg.ByteOrder != "" {
		if bo, err = ParseByteOrder(cfg.ByteOrder); err != nil {
			return nil, err
		}
	}
	wo := s.defWO
	if cfg.WordOrder != "" {
		if wo, err = ParseWordOrder(cfg.WordOrder); err != nil {
			return nil, err
		}
	}

	scaling := cfg.Scaling
	if scaling == (ScalingSpec{}) {
		scaling = IdentityScaling
	}
	if err := validateBehavior(cfg.Behavior); err != nil {
		return nil, err
	}

	def := &RegisterDefinition{
		Kind:        cfg.Kind,
		Address:     cfg.Address,
		Name:        cfg.Name,
		Description: cfg.Description,
		Unit:        cfg.Unit,
		DataType:    dt,
		Scaling:     scaling,
		ByteOrder:   bo,
		WordOrder:   wo,
		fault:       faultState{behavior: cfg.Behavior},
	}

	value := cfg.Value
	if value == nil {
		value = zeroValue(dt)
	}
	words, err := def.encodeValue(value)
	if err != nil {
		return nil, err
	}
	if dt == STRING {
		width := cfg.Length
		if width < len(words) {
			width = len(words)
		}
		if width == 0 {
			return nil, fmt.Errorf("%w: STRING register %d needs a value or length",
				ErrInvalidConfig, cfg.Address)
		}
		for len(words) < width {
			words = append(words, 0)
		}
	}
	def.words = words
	return def, nil
}

// encodeValue converts an application value into the definition's raw words,
// un-applying scaling for numeric types.
func (d *RegisterDefinition) encodeValue(v any) ([]uint16, error) {
	if d.DataType.Numeric() && !d.Scaling.Identity() {
		app, err := coerceFloat(v, d.DataType)
		if err != nil {
			return nil, err
		}
		raw := d.Scaling.Unapply(app)
		switch d.DataType {
		case FLOAT32, FLOAT64:
			return Encode(raw, d.DataType, d.ByteOrder, d.WordOrder)
		default:
			return Encode(math.Round(raw), d.DataType, d.ByteOrder, d.WordOrder)
		}
	}
	return Encode(v, d.DataType, d.ByteOrder, d.WordOrder)
}

// decodeValue converts the given raw words into the application value,
// applying scaling for numeric types.
func (d *RegisterDefinition) decodeValue(words []uint16) (any, error) {
	raw, err := Decode(words, d.DataType, d.ByteOrder, d.WordOrder)
	if err != nil {
		return nil, err
	}
	if d.DataType.Numeric() && !d.Scaling.Identity() {
		f, ok := numericValue(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrTypeMismatch, raw)
		}
		return d.Scaling.Apply(f), nil
	}
	return raw, nil
}

func zeroValue(dt DataType) any {
	switch dt {
	case STRING:
		return ""
	case BOOLEAN:
		return false
	case FLOAT32, FLOAT64:
		return 0.0
	default:
		return 0
	}
}

// numericValue widens any decoded numeric value to float64.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case uint16:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func validateBehavior(b ErrorBehavior) error {
	switch b.Kind {
	case BehaviorIntermittent:
		if b.Probability < 0 || b.Probability > 1 {
			return fmt.Errorf("%w: probability %v outside [0,1]",
				ErrInvalidConfig, b.Probability)
		}
	case BehaviorFailAfterReads, BehaviorFailAfterWrites, BehaviorStale:
		if b.Threshold < 1 {
			return fmt.Errorf("%w: %s needs a threshold of at least 1",
				ErrInvalidConfig, b.Kind)
		}
	case BehaviorOutOfRange:
		if b.Max < b.Min {
			return fmt.Errorf("%w: out_of_range bounds [%v, %v] are inverted",
				ErrInvalidConfig, b.Min, b.Max)
		}
	}
	return nil
}

// ReadBits reads count coil or discrete-input values starting at addr.
func (s *Store) ReadBits(kind RegisterKind, addr, count uint16) ([]bool, error) {
	if !kind.Bit() {
		return nil, fmt.Errorf("%w: %s is not a bit kind", ErrUnknownRegisterKind, kind)
	}
	words, err := s.read(kind, addr, count)
	if err != nil {
		return nil, err
	}
	bits := make([]bool, len(words))
	for i, w := range words {
		bits[i] = w != 0
	}
	return bits, nil
}

// ReadWords reads count register words starting at addr. The returned words
// are the raw values the wire protocol carries; scaling is not applied.
func (s *Store) ReadWords(kind RegisterKind, addr, count uint16) ([]uint16, error) {
	if kind.Bit() {
		return nil, fmt.Errorf("%w: %s is not a word kind", ErrUnknownRegisterKind, kind)
	}
	return s.read(kind, addr, count)
}

// WriteBits writes coil values starting at addr.
func (s *Store) WriteBits(kind RegisterKind, addr uint16, values []bool) error {
	if !kind.Bit() {
		return fmt.Errorf("%w: %s is not a bit kind", ErrUnknownRegisterKind, kind)
	}
	words := make([]uint16, len(values))
	for i, b := range values {
		if b {
			words[i] = 1
		}
	}
	return s.write(kind, addr, words)
}

// WriteWords writes raw register words starting at addr.
func (s *Store) WriteWords(kind RegisterKind, addr uint16, values []uint16) error {
	if kind.Bit() {
		return fmt.Errorf("%w: %s is not a word kind", ErrUnknownRegisterKind, kind)
	}
	return s.write(kind, addr, values)
}

// read returns raw word values for the range, gated by fault injection.
// The range must be fully covered by allocated definitions; otherwise no
// counter advances and no register is touched.
func (s *Store) read(kind RegisterKind, addr, count uint16) ([]uint16, error) {
	if count == 0 || int(addr)+int(count) > 65536 {
		return nil, NewModbusError(0, ExceptionIllegalDataAddress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cells, defs, err := s.coverage(kind, addr, count)
	if err != nil {
		return nil, err
	}

	var denied error
	for _, def := range defs {
		if err := def.fault.gate(accessRead, s.rng); err != nil && denied == nil {
			denied = err
		}
	}
	if denied != nil {
		return nil, denied
	}

	out := make([]uint16, count)
	for i, c := range cells {
		if c.def.fault.stale() {
			out[i] = c.def.fault.frozen[c.idx]
		} else {
			out[i] = c.def.words[c.idx]
		}
	}

	for _, def := range defs {
		if def.fault.freezeDue() {
			def.fault.frozen = append([]uint16(nil), def.words...)
		}
	}
	return out, nil
}

// write applies raw word values to the range as one atomic group: the range
// is validated, gated and bounds-checked in full before any word changes.
func (s *Store) write(kind RegisterKind, addr uint16, values []uint16) error {
	if !kind.Writable() {
		return NewModbusError(0, ExceptionIllegalFunction)
	}
	count := uint16(len(values))
	if count == 0 || int(addr)+int(count) > 65536 {
		return NewModbusError(0, ExceptionIllegalDataAddress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cells, defs, err := s.coverage(kind, addr, count)
	if err != nil {
		return err
	}

	// Prospective per-definition word images, so OutOfRange sees the value
	// the write would produce and the mutation below is all-or-nothing.
	pending := make(map[*RegisterDefinition][]uint16, len(defs))
	for _, def := range defs {
		pending[def] = append([]uint16(nil), def.words...)
	}
	for i, c := range cells {
		pending[c.def][c.idx] = values[i]
	}

	var denied error
	for _, def := range defs {
		err := def.fault.gate(accessWrite, s.rng)
		if err == nil && def.fault.behavior.Kind == BehaviorOutOfRange {
			if code, deny := s.checkBounds(def, pending[def]); deny {
				err = NewModbusError(0, code)
			}
		}
		if err != nil && denied == nil {
			denied = err
		}
	}
	if denied != nil {
		return denied
	}

	for _, def := range defs {
		copy(def.words, pending[def])
		if def.fault.freezeDue() {
			def.fault.frozen = append([]uint16(nil), def.words...)
		}
	}
	return nil
}

// checkBounds evaluates an OutOfRange behavior against the prospective
// post-write value.
func (s *Store) checkBounds(def *RegisterDefinition, words []uint16) (ExceptionCode, bool) {
	v, err := def.decodeValue(words)
	if err != nil {
		return ExceptionIllegalDataValue, true
	}
	f, ok := numericValue(v)
	if !ok {
		if b, isBool := v.(bool); isBool {
			if b {
				f = 1
			}
		} else {
			return 0, false
		}
	}
	b := def.fault.behavior
	if f < b.Min || f > b.Max {
		return b.exception(), true
	}
	return 0, false
}

// replaceFrom swaps in the register set of src, which must not be shared
// with any other holder. Requests in flight finish against the old set;
// later requests see the new one.
func (s *Store) replaceFrom(src *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.defs {
		s.defs[k] = src.defs[k]
		s.cells[k] = src.cells[k]
	}
}

// coverage validates that addr..addr+count-1 is fully allocated and returns
// the per-address cells plus the distinct owning definitions in ascending
// base-address order. Must be called with the lock held.
func (s *Store) coverage(kind RegisterKind, addr, count uint16) ([]*cell, []*RegisterDefinition, error) {
	k := int(kind)
	cells := make([]*cell, count)
	var defs []*RegisterDefinition
	var last *RegisterDefinition
	for i := uint16(0); i < count; i++ {
		c, ok := s.cells[k][addr+i]
		if !ok {
			return nil, nil, NewModbusError(0, ExceptionIllegalDataAddress)
		}
		cells[i] = c
		if c.def != last {
			defs = append(defs, c.def)
			last = c.def
		}
	}
	return cells, defs, nil
}

// SetValue sets a register's application value through the configuration
// path: scaling is un-applied, the value is re-encoded into raw words, and
// fault injection is bypassed. STRING values shorter than the register's
// width are padded; longer values fail with ErrWidthMismatch.
func (s *Store) SetValue(kind RegisterKind, addr uint16, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[int(kind)][addr]
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrRegisterNotFound, kind, addr)
	}
	words, err := def.encodeValue(v)
	if err != nil {
		return err
	}
	if def.DataType == STRING {
		if len(words) > len(def.words) {
			return fmt.Errorf("%w: value needs %d words, register has %d",
				ErrWidthMismatch, len(words), len(def.words))
		}
		for len(words) < len(def.words) {
			words = append(words, 0)
		}
	} else if len(words) != len(def.words) {
		return fmt.Errorf("%w: value needs %d words, register has %d",
			ErrWidthMismatch, len(words), len(def.words))
	}
	copy(def.words, words)
	return nil
}

// Value returns a register's application value (scaling applied).
func (s *Store) Value(kind RegisterKind, addr uint16) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[int(kind)][addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", ErrRegisterNotFound, kind, addr)
	}
	return def.decodeValue(def.words)
}

// SetErrorBehavior replaces a register's error behavior and resets its
// fault-injection state.
func (s *Store) SetErrorBehavior(kind RegisterKind, addr uint16, b ErrorBehavior) error {
	if err := validateBehavior(b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[int(kind)][addr]
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrRegisterNotFound, kind, addr)
	}
	def.fault.behavior = b
	def.fault.reset()
	return nil
}

// ResetFaultState clears a register's fault counters and frozen snapshot,
// restoring normal operation while keeping the configured behavior.
func (s *Store) ResetFaultState(kind RegisterKind, addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[int(kind)][addr]
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrRegisterNotFound, kind, addr)
	}
	def.fault.reset()
	return nil
}

// Snapshot returns the application-facing view of every register of the
// kind, ordered by address.
func (s *Store) Snapshot(kind RegisterKind) ([]RegisterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs := s.defs[int(kind)]
	out := make([]RegisterSnapshot, 0, len(defs))
	for _, def := range defs {
		v, err := def.decodeValue(def.words)
		if err != nil {
			return nil, err
		}
		out = append(out, RegisterSnapshot{
			Address:  def.Address,
			Name:     def.Name,
			Kind:     def.Kind,
			DataType: def.DataType,
			Value:    v,
			Unit:     def.Unit,
			Behavior: def.fault.behavior.Kind,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Definitions returns a copy of the register configurations of the kind,
// ordered by address. Used by the configuration writer.
func (s *Store) Definitions(kind RegisterKind) []RegisterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs := s.defs[int(kind)]
	out := make([]RegisterConfig, 0, len(defs))
	for _, def := range defs {
		v, err := def.decodeValue(def.words)
		if err != nil {
			continue
		}
		cfg := RegisterConfig{
			Kind:        def.Kind,
			Address:     def.Address,
			Name:        def.Name,
			Description: def.Description,
			Unit:        def.Unit,
			DataType:    def.DataType.String(),
			Value:       v,
			Scaling:     def.Scaling,
			ByteOrder:   def.ByteOrder.String(),
			WordOrder:   def.WordOrder.String(),
			Behavior:    def.fault.behavior,
			Length:      len(def.words),
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
