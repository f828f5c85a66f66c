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
	"strings"
)

// Encode converts a typed application value into an ordered sequence of
// 16-bit register words. Word order decides whether the most significant
// word comes first; byte order decides byte placement inside each word,
// relative to the big-endian word serialization the wire uses.
//
// Encode fails with ErrTypeMismatch when the value's runtime kind disagrees
// with the data type, or when a numeric value cannot be represented.
func Encode(v any, dt DataType, bo ByteOrder, wo WordOrder) ([]uint16, error) {
	switch dt {
	case UINT16:
		u, err := coerceUint(v, dt, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		return packBytes([]byte{byte(u >> 8), byte(u)}, bo, wo), nil
	case INT16:
		i, err := coerceInt(v, dt, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, err
		}
		u := uint16(i)
		return packBytes([]byte{byte(u >> 8), byte(u)}, bo, wo), nil
	case UINT32:
		u, err := coerceUint(v, dt, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		return packBytes(be32(uint32(u)), bo, wo), nil
	case INT32:
		i, err := coerceInt(v, dt, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return packBytes(be32(uint32(int32(i))), bo, wo), nil
	case FLOAT32:
		f, err := coerceFloat(v, dt)
		if err != nil {
			return nil, err
		}
		return packBytes(be32(math.Float32bits(float32(f))), bo, wo), nil
	case UINT64:
		u, err := coerceUint(v, dt, math.MaxUint64)
		if err != nil {
			return nil, err
		}
		return packBytes(be64(u), bo, wo), nil
	case INT64:
		i, err := coerceInt(v, dt, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		return packBytes(be64(uint64(i)), bo, wo), nil
	case FLOAT64:
		f, err := coerceFloat(v, dt)
		if err != nil {
			return nil, err
		}
		return packBytes(be64(math.Float64bits(f)), bo, wo), nil
	case STRING:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a STRING", ErrTypeMismatch, v)
		}
		b := []byte(s)
		if len(b)%2 != 0 {
			b = append(b, stringFillByte)
		}
		return packBytes(b, bo, wo), nil
	case BOOLEAN:
		b, err := coerceBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dt)
	}
}

// Decode converts an ordered sequence of 16-bit register words back into the
// typed application value. It fails with ErrWidthMismatch when the word
// count does not match the data type's width (for STRING, any non-empty
// sequence is valid). Decode(Encode(v)) == v for every representable value.
func Decode(words []uint16, dt DataType, bo ByteOrder, wo WordOrder) (any, error) {
	if w := dt.WordWidth(); w > 0 && len(words) != w {
		return nil, fmt.Errorf("%w: %s needs %d words, got %d", ErrWidthMismatch, dt, w, len(words))
	}
	if dt == STRING && len(words) == 0 {
		return nil, fmt.Errorf("%w: STRING needs at least one word", ErrWidthMismatch)
	}

	b := unpackBytes(words, bo, wo)
	switch dt {
	case UINT16:
		return uint16(b[0])<<8 | uint16(b[1]), nil
	case INT16:
		return int16(uint16(b[0])<<8 | uint16(b[1])), nil
	case UINT32:
		return beUint32(b), nil
	case INT32:
		return int32(beUint32(b)), nil
	case FLOAT32:
		return math.Float32frombits(beUint32(b)), nil
	case UINT64:
		return beUint64(b), nil
	case INT64:
		return int64(beUint64(b)), nil
	case FLOAT64:
		return math.Float64frombits(beUint64(b)), nil
	case STRING:
		return strings.TrimRight(string(b), string(rune(stringFillByte))), nil
	case BOOLEAN:
		return words[0] != 0, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dt)
	}
}

// stringFillByte pads STRING values to an even byte count. Decode strips
// trailing fill bytes.
const stringFillByte byte = 0x00

// packBytes splits a big-endian byte sequence into register words, applying
// the configured byte and word orders. len(b) must be even.
func packBytes(b []byte, bo ByteOrder, wo WordOrder) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		hi, lo := b[2*i], b[2*i+1]
		if bo == ByteOrderLittle {
			hi, lo = lo, hi
		}
		words[i] = uint16(hi)<<8 | uint16(lo)
	}
	if wo == WordOrderLittle {
		reverseWords(words)
	}
	return words
}

// unpackBytes is the inverse of packBytes.
func unpackBytes(words []uint16, bo ByteOrder, wo WordOrder) []byte {
	if wo == WordOrderLittle {
		ordered := make([]uint16, len(words))
		copy(ordered, words)
		reverseWords(ordered)
		words = ordered
	}
	b := make([]byte, 2*len(words))
	for i, w := range words {
		hi, lo := byte(w>>8), byte(w)
		if bo == ByteOrderLittle {
			hi, lo = lo, hi
		}
		b[2*i] = hi
		b[2*i+1] = lo
	}
	return b
}

func reverseWords(w []uint16) {
	for i, j := 0, len(w)-1; i < j; i, j = i+1, j-1 {
		w[i], w[j] = w[j], w[i]
	}
}

func be32(u uint32) []byte {
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

func be64(u uint64) []byte {
	return []byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

// Coercion helpers. Configuration values arrive through encoding/json as
// float64, so numeric types accept any integral numeric representation that
// fits the target range.

func coerceUint(v any, dt DataType, max uint64) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case uint:
		u = uint64(n)
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value %d for %s", ErrTypeMismatch, n, dt)
		}
		u = uint64(n)
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value %d for %s", ErrTypeMismatch, n, dt)
		}
		u = uint64(n)
	case float64:
		// float64(MaxUint64) rounds to exactly 2^64, one past the largest
		// uint64, so the comparison must be inclusive.
		if n < 0 || n != math.Trunc(n) || n >= float64(math.MaxUint64) {
			return 0, fmt.Errorf("%w: %v is not a valid %s", ErrTypeMismatch, n, dt)
		}
		u = uint64(n)
	default:
		return 0, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, v, dt)
	}
	if u > max {
		return 0, fmt.Errorf("%w: %d overflows %s", ErrTypeMismatch, u, dt)
	}
	return u, nil
}

func coerceInt(v any, dt DataType, min, max int64) (int64, error) {
	var i int64
	switch n := v.(type) {
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case int:
		i = int64(n)
	case float64:
		// float64(MaxInt64) rounds to exactly 2^63, one past the largest
		// int64; float64(MinInt64) is exact and in range.
		if n != math.Trunc(n) || n < float64(math.MinInt64) || n >= float64(math.MaxInt64) {
			return 0, fmt.Errorf("%w: %v is not a valid %s", ErrTypeMismatch, n, dt)
		}
		i = int64(n)
	default:
		return 0, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, v, dt)
	}
	if i < min || i > max {
		return 0, fmt.Errorf("%w: %d overflows %s", ErrTypeMismatch, i, dt)
	}
	return i, nil
}

func coerceFloat(v any, dt DataType) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, v, dt)
	}
}

func coerceBool(v any) (bool, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case float64:
		return n != 0, nil
	case int:
		return n != 0, nil
	default:
		return false, fmt.Errorf("%w: %T is not a BOOLEAN", ErrTypeMismatch, v)
	}
}
