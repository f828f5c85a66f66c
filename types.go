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

// Package simulator implements a Modbus field-device simulator: a typed,
// fault-injectable register store served over Modbus TCP or RTU framing.
package simulator

import (
	"fmt"
	"strings"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes answered by the simulator.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils that can be read/written.
	MaxQuantityCoils = 2000

	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers that can be written.
	MaxQuantityWriteRegisters = 123

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502

	// DefaultTimeout is the default timeout for transport operations.
	DefaultTimeout = 5 * time.Second
)

// Coil values on the wire for FC05.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// RegisterKind identifies one of the four Modbus register tables.
type RegisterKind uint8

const (
	Coil RegisterKind = iota
	DiscreteInput
	InputRegister
	HoldingRegister
)

// Bit reports whether the kind is single-bit (coils and discrete inputs).
func (k RegisterKind) Bit() bool {
	return k == Coil || k == DiscreteInput
}

// Writable reports whether protocol writes are legal for the kind.
func (k RegisterKind) Writable() bool {
	return k == Coil || k == HoldingRegister
}

// Key returns the short configuration-file key for the kind.
func (k RegisterKind) Key() string {
	switch k {
	case Coil:
		return "co"
	case DiscreteInput:
		return "di"
	case InputRegister:
		return "ir"
	case HoldingRegister:
		return "hr"
	default:
		return "??"
	}
}

// String returns the string representation of the register kind.
func (k RegisterKind) String() string {
	switch k {
	case Coil:
		return "COIL"
	case DiscreteInput:
		return "DISCRETE_INPUT"
	case InputRegister:
		return "INPUT_REGISTER"
	case HoldingRegister:
		return "HOLDING_REGISTER"
	default:
		return fmt.Sprintf("unknown kind (%d)", uint8(k))
	}
}

// ParseRegisterKind parses a register kind from its long or short form.
func ParseRegisterKind(s string) (RegisterKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "co", "coil", "coils":
		return Coil, nil
	case "di", "discrete_input", "discrete-input", "discrete_inputs":
		return DiscreteInput, nil
	case "ir", "input_register", "input-register", "input_registers":
		return InputRegister, nil
	case "hr", "holding_register", "holding-register", "holding_registers":
		return HoldingRegister, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRegisterKind, s)
	}
}

// RegisterKinds lists all kinds in table order.
var RegisterKinds = []RegisterKind{Coil, DiscreteInput, InputRegister, HoldingRegister}

// DataType identifies the application-level type a register group carries.
type DataType uint8

const (
	UINT16 DataType = iota
	INT16
	UINT32
	INT32
	FLOAT32
	UINT64
	INT64
	FLOAT64
	STRING
	BOOLEAN
)

// WordWidth returns the number of 16-bit words the type occupies. STRING is
// variable-width and returns 0; its width is derived from the stored value.
func (t DataType) WordWidth() int {
	switch t {
	case UINT16, INT16, BOOLEAN:
		return 1
	case UINT32, INT32, FLOAT32:
		return 2
	case UINT64, INT64, FLOAT64:
		return 4
	default:
		return 0
	}
}

// Numeric reports whether scaling applies to the type.
func (t DataType) Numeric() bool {
	return t != STRING && t != BOOLEAN
}

// String returns the string representation of the data type.
func (t DataType) String() string {
	switch t {
	case UINT16:
		return "UINT16"
	case INT16:
		return "INT16"
	case UINT32:
		return "UINT32"
	case INT32:
		return "INT32"
	case FLOAT32:
		return "FLOAT32"
	case UINT64:
		return "UINT64"
	case INT64:
		return "INT64"
	case FLOAT64:
		return "FLOAT64"
	case STRING:
		return "STRING"
	case BOOLEAN:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("unknown type (%d)", uint8(t))
	}
}

// ParseDataType parses a data type name as it appears in configuration files.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UINT16", "":
		return UINT16, nil
	case "INT16":
		return INT16, nil
	case "UINT32":
		return UINT32, nil
	case "INT32":
		return INT32, nil
	case "FLOAT32":
		return FLOAT32, nil
	case "UINT64":
		return UINT64, nil
	case "INT64":
		return INT64, nil
	case "FLOAT64":
		return FLOAT64, nil
	case "STRING":
		return STRING, nil
	case "BOOLEAN", "BOOL":
		return BOOLEAN, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDataType, s)
	}
}

// ByteOrder controls byte placement inside each 16-bit word.
type ByteOrder uint8

// WordOrder controls word ordering across a multi-word value.
type WordOrder uint8

const (
	ByteOrderBig ByteOrder = iota
	ByteOrderLittle
)

const (
	WordOrderBig WordOrder = iota
	WordOrderLittle
)

// String returns the string representation of the byte order.
func (o ByteOrder) String() string {
	if o == ByteOrderLittle {
		return "LITTLE"
	}
	return "BIG"
}

// String returns the string representation of the word order.
func (o WordOrder) String() string {
	if o == WordOrderLittle {
		return "LITTLE"
	}
	return "BIG"
}

// ParseByteOrder parses a byte order name. Empty input means big-endian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BIG":
		return ByteOrderBig, nil
	case "LITTLE":
		return ByteOrderLittle, nil
	default:
		return 0, fmt.Errorf("%w: byte order %q", ErrUnknownOrder, s)
	}
}

// ParseWordOrder parses a word order name. Empty input means big-endian.
func ParseWordOrder(s string) (WordOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BIG":
		return WordOrderBig, nil
	case "LITTLE":
		return WordOrderLittle, nil
	default:
		return 0, fmt.Errorf("%w: word order %q", ErrUnknownOrder, s)
	}
}

// ScalingSpec relates the raw register value to the application value by
// app = raw*Factor + Offset. STRING and BOOLEAN registers must use the
// identity scaling.
type ScalingSpec struct {
	Factor float64
	Offset float64
}

// IdentityScaling is the default, pass-through scaling.
var IdentityScaling = ScalingSpec{Factor: 1}

// Identity reports whether the spec is the identity transform.
func (s ScalingSpec) Identity() bool {
	return (s.Factor == 1 || s.Factor == 0) && s.Offset == 0
}

// Apply converts a raw value to the application value.
func (s ScalingSpec) Apply(raw float64) float64 {
	f := s.Factor
	if f == 0 {
		f = 1
	}
	return raw*f + s.Offset
}

// Unapply converts an application value back to the raw value.
func (s ScalingSpec) Unapply(app float64) float64 {
	f := s.Factor
	if f == 0 {
		f = 1
	}
	return (app - s.Offset) / f
}

// TransportKind selects the framing a server speaks.
type TransportKind uint8

const (
	TransportTCP TransportKind = iota
	TransportRTU
)

// String returns the string representation of the transport kind.
func (t TransportKind) String() string {
	if t == TransportRTU {
		return "rtu"
	}
	return "tcp"
}

// ParseTransportKind parses a transport name ("tcp" or "rtu").
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return TransportTCP, nil
	case "rtu", "serial":
		return TransportRTU, nil
	default:
		return 0, fmt.Errorf("%w: transport %q", ErrUnknownTransport, s)
	}
}
