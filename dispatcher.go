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
	"encoding/binary"
	"errors"
	"log/slog"
)

// Dispatcher decodes Modbus request PDUs, validates them, and executes them
// against the register store. Every request produces a response PDU: either
// the normal response or an exception (function code with the high bit set
// plus the exception code). Exceptions never terminate a connection.
type Dispatcher struct {
	store  *Store
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store.
func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, logger: logger}
}

// Handle processes one request PDU and returns the response PDU. A nil
// return means the request hit a register configured for no response and the
// transport must not answer it.
func (d *Dispatcher) Handle(pdu []byte) []byte {
	if len(pdu) < 1 {
		return exceptionPDU(0, ExceptionIllegalFunction)
	}

	fc := FunctionCode(pdu[0])
	var resp []byte
	var err error

	switch fc {
	case FuncReadCoils:
		resp, err = d.handleReadBits(fc, Coil, pdu)
	case FuncReadDiscreteInputs:
		resp, err = d.handleReadBits(fc, DiscreteInput, pdu)
	case FuncReadHoldingRegisters:
		resp, err = d.handleReadWords(fc, HoldingRegister, pdu)
	case FuncReadInputRegisters:
		resp, err = d.handleReadWords(fc, InputRegister, pdu)
	case FuncWriteSingleCoil:
		resp, err = d.handleWriteSingleCoil(pdu)
	case FuncWriteSingleRegister:
		resp, err = d.handleWriteSingleRegister(pdu)
	case FuncWriteMultipleCoils:
		resp, err = d.handleWriteMultipleCoils(pdu)
	case FuncWriteMultipleRegisters:
		resp, err = d.handleWriteMultipleRegisters(pdu)
	default:
		resp = exceptionPDU(fc, ExceptionIllegalFunction)
	}

	if err != nil {
		resp = d.exceptionFor(fc, err)
	}
	return resp
}

func exceptionPDU(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

// exceptionFor maps a store error onto an exception response. ErrNoResponse
// yields nil so the transport drops the request. Errors that are not Modbus
// exceptions indicate an internal failure and surface as ServerDeviceFailure.
func (d *Dispatcher) exceptionFor(fc FunctionCode, err error) []byte {
	if errors.Is(err, ErrNoResponse) {
		d.logger.Debug("suppressing response",
			slog.String("func", fc.String()))
		return nil
	}
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return exceptionPDU(fc, modbusErr.ExceptionCode)
	}
	d.logger.Error("dispatch error",
		slog.String("func", fc.String()),
		slog.String("error", err.Error()))
	return exceptionPDU(fc, ExceptionServerDeviceFailure)
}

func (d *Dispatcher) handleReadBits(fc FunctionCode, kind RegisterKind, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return exceptionPDU(fc, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityCoils {
		return exceptionPDU(fc, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return exceptionPDU(fc, ExceptionIllegalDataAddress), nil
	}

	values, err := d.store.ReadBits(kind, addr, qty)
	if err != nil {
		return nil, err
	}

	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(fc)
	resp[1] = byte(byteCount)
	for i, v := range values {
		if v {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp, nil
}

func (d *Dispatcher) handleReadWords(fc FunctionCode, kind RegisterKind, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return exceptionPDU(fc, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityRegisters {
		return exceptionPDU(fc, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return exceptionPDU(fc, ExceptionIllegalDataAddress), nil
	}

	values, err := d.store.ReadWords(kind, addr, qty)
	if err != nil {
		return nil, err
	}

	byteCount := qty * 2
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(fc)
	resp[1] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+i*2:], v)
	}
	return resp, nil
}

func (d *Dispatcher) handleWriteSingleCoil(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return exceptionPDU(FuncWriteSingleCoil, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	var boolValue bool
	if value == CoilOn {
		boolValue = true
	} else if value != CoilOff {
		return exceptionPDU(FuncWriteSingleCoil, ExceptionIllegalDataValue), nil
	}

	if err := d.store.WriteBits(Coil, addr, []bool{boolValue}); err != nil {
		return nil, err
	}

	// Echo request as response (copy to avoid sharing slice)
	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (d *Dispatcher) handleWriteSingleRegister(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return exceptionPDU(FuncWriteSingleRegister, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if err := d.store.WriteWords(HoldingRegister, addr, []uint16{value}); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (d *Dispatcher) handleWriteMultipleCoils(pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityCoils {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataAddress), nil
	}
	expectedBytes := int((qty + 7) / 8)
	if byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}

	values := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = (pdu[6+i/8] & (1 << (i % 8))) != 0
	}

	if err := d.store.WriteBits(Coil, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

func (d *Dispatcher) handleWriteMultipleRegisters(pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityWriteRegisters {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataAddress), nil
	}
	expectedBytes := int(qty * 2)
	if byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}

	values := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = binary.BigEndian.Uint16(pdu[6+i*2:])
	}

	if err := d.store.WriteWords(HoldingRegister, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

// IsExceptionResponse checks if the PDU is an exception response.
func IsExceptionResponse(pdu []byte) bool {
	return len(pdu) > 0 && (pdu[0]&0x80) != 0
}

// ParseExceptionResponse parses an exception response PDU.
func ParseExceptionResponse(pdu []byte) *ModbusError {
	if len(pdu) < 2 {
		return nil
	}
	return &ModbusError{
		FunctionCode:  FunctionCode(pdu[0] & 0x7F),
		ExceptionCode: ExceptionCode(pdu[1]),
	}
}
