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
	"io"
	"log/slog"
	"sync/atomic"
)

// RTU framing constants.
const (
	// rtuMinFrameSize is address + function code + CRC.
	rtuMinFrameSize = 4

	// rtuMaxFrameSize is address + max PDU + CRC.
	rtuMaxFrameSize = 256

	// rtuBroadcast is the broadcast address: writes are executed but
	// never answered, reads are dropped outright.
	rtuBroadcast = 0
)

// CRC16 computes the Modbus RTU frame-check sequence (polynomial 0xA001)
// over data. The result is appended to frames least significant byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// appendCRC appends the frame-check sequence to an RTU frame.
func appendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// checkCRC reports whether the trailing frame-check sequence matches the
// frame contents.
func checkCRC(frame []byte) bool {
	if len(frame) < rtuMinFrameSize {
		return false
	}
	want := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	return CRC16(frame[:len(frame)-2]) == want
}

// ServeRTU answers Modbus RTU frames read from port until the port fails or
// the server is closed. Each Read is expected to deliver one complete frame;
// the inter-frame silent interval that delimits RTU frames is the port
// driver's concern. Frames with a bad frame-check sequence are dropped
// without a response, since the client cannot tell a garbled request from a
// garbled retry.
func (s *Server) ServeRTU(port io.ReadWriteCloser) error {
	s.opts.logger.Info("rtu server started")
	s.wg.Add(1)
	defer s.wg.Done()

	buf := make([]byte, rtuMaxFrameSize)
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 || err == io.EOF {
				return nil
			}
			return err
		}
		if n < rtuMinFrameSize {
			s.metrics.DroppedFrames.Add(1)
			continue
		}

		frame := buf[:n]
		if !checkCRC(frame) {
			s.metrics.DroppedFrames.Add(1)
			s.opts.logger.Debug("dropping frame with bad CRC", slog.Int("len", n))
			continue
		}

		addr := frame[0]
		pdu := frame[1 : n-2]
		if s.opts.unitID != 0 && addr != byte(s.opts.unitID) && addr != rtuBroadcast {
			continue
		}

		fc := FunctionCode(pdu[0])

		// Broadcast carries no reply, so only write requests make sense;
		// broadcast reads are dropped without touching the store.
		if addr == rtuBroadcast {
			switch fc {
			case FuncWriteSingleCoil, FuncWriteSingleRegister,
				FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
			default:
				s.metrics.DroppedFrames.Add(1)
				continue
			}
		}

		s.metrics.RequestsTotal.Add(1)

		start := timeNow()
		resp := s.dispatcher.Handle(pdu)
		elapsed := timeNow().Sub(start)

		s.metrics.Latency.Observe(elapsed)
		fm := s.metrics.ForFunction(fc)
		fm.Requests.Add(1)
		fm.Latency.Observe(elapsed)
		if IsExceptionResponse(resp) {
			s.metrics.Exceptions.Add(1)
			fm.Exceptions.Add(1)
		}

		if resp == nil || addr == rtuBroadcast {
			continue
		}

		out := make([]byte, 0, len(resp)+3)
		out = append(out, addr)
		out = append(out, resp...)
		out = appendCRC(out)
		if _, err := port.Write(out); err != nil {
			s.metrics.RequestsErrors.Add(1)
			return err
		}
		s.metrics.RequestsSuccess.Add(1)
	}
}
