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
	"fmt"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// ModbusError represents a Modbus protocol error that is rendered as an
// exception response on the wire. Injected faults surface as this type too;
// on the wire they are indistinguishable from genuine protocol errors.
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	return fmt.Sprintf("simulator: exception %s (FC=%02X)", e.ExceptionCode, e.FunctionCode)
}

// Is checks if the error matches the target.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// NewModbusError creates a new Modbus exception error.
func NewModbusError(fc FunctionCode, ec ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  fc,
		ExceptionCode: ec,
	}
}

// Common errors.
var (
	// ErrInvalidFrame indicates a malformed transport frame.
	ErrInvalidFrame = errors.New("simulator: invalid frame")

	// ErrInvalidCRC indicates an RTU frame-check failure.
	ErrInvalidCRC = errors.New("simulator: invalid CRC")

	// ErrTypeMismatch indicates a value's runtime kind disagrees with the
	// register's declared data type.
	ErrTypeMismatch = errors.New("simulator: type mismatch")

	// ErrWidthMismatch indicates a word sequence whose length does not match
	// the data type's required width.
	ErrWidthMismatch = errors.New("simulator: width mismatch")

	// ErrDuplicateRegister indicates two definitions claim the same address.
	ErrDuplicateRegister = errors.New("simulator: duplicate register definition")

	// ErrUnknownDataType indicates an unsupported data type string.
	ErrUnknownDataType = errors.New("simulator: unknown data type")

	// ErrUnknownRegisterKind indicates an unsupported register kind string.
	ErrUnknownRegisterKind = errors.New("simulator: unknown register kind")

	// ErrUnknownOrder indicates an unsupported byte/word order string.
	ErrUnknownOrder = errors.New("simulator: unknown order")

	// ErrUnknownBehavior indicates an unsupported error behavior string.
	ErrUnknownBehavior = errors.New("simulator: unknown error behavior")

	// ErrUnknownTransport indicates an unsupported transport string.
	ErrUnknownTransport = errors.New("simulator: unknown transport")

	// ErrRegisterNotFound indicates no definition starts at the given address.
	ErrRegisterNotFound = errors.New("simulator: register not found")

	// ErrInvalidConfig indicates a configuration file that cannot be loaded.
	ErrInvalidConfig = errors.New("simulator: invalid configuration")

	// ErrServerRunning indicates a start request against a running engine.
	ErrServerRunning = errors.New("simulator: server already running")

	// ErrServerStopped indicates a stop request against a stopped engine.
	ErrServerStopped = errors.New("simulator: server not running")

	// ErrConfigWatched indicates the engine is already watching a
	// configuration file.
	ErrConfigWatched = errors.New("simulator: configuration already watched")

	// ErrNoResponse indicates a register configured to behave like a dead
	// device: the request must be dropped without an answer.
	ErrNoResponse = errors.New("simulator: no response")
)

// IsException checks if an error is a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}

// IsIllegalFunction checks if the error is an illegal function exception.
func IsIllegalFunction(err error) bool {
	return IsException(err, ExceptionIllegalFunction)
}

// IsIllegalDataAddress checks if the error is an illegal data address exception.
func IsIllegalDataAddress(err error) bool {
	return IsException(err, ExceptionIllegalDataAddress)
}

// IsIllegalDataValue checks if the error is an illegal data value exception.
func IsIllegalDataValue(err error) bool {
	return IsException(err, ExceptionIllegalDataValue)
}

// IsServerDeviceFailure checks if the error is a server device failure exception.
func IsServerDeviceFailure(err error) bool {
	return IsException(err, ExceptionServerDeviceFailure)
}
