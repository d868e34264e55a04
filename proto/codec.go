package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RowCodec encodes/decodes a property map against a fixed schema
// version. The production row codec is an external collaborator; this
// is a length-prefixed implementation that keeps the round-trip
// invariant testable without claiming to be the production wire format.
type RowCodec interface {
	Encode(schema *Schema, props map[string]Value) ([]byte, EncoderFault, error)
	Decode(schema *Schema, raw []byte) (map[string]Value, error)
}

// simpleRowCodec is the default RowCodec: each column is emitted in
// schema order as a presence byte followed, when present, by a
// type-specific payload.
type simpleRowCodec struct{}

// NewRowCodec returns the default length-prefixed row codec.
func NewRowCodec() RowCodec {
	return simpleRowCodec{}
}

const (
	presentByte = 1
	absentByte  = 0
)

func (simpleRowCodec) Encode(schema *Schema, props map[string]Value) ([]byte, EncoderFault, error) {
	buf := make([]byte, 0, 64)
	for _, col := range schema.Columns {
		v, ok := props[col.Name]
		if !ok {
			if col.Default != nil {
				v = *col.Default
			} else if col.Nullable {
				buf = append(buf, absentByte)
				continue
			} else {
				return nil, FaultFieldUnset, fmt.Errorf("field %q unset", col.Name)
			}
		}
		if v.Type != col.Type {
			return nil, FaultTypeMismatch, fmt.Errorf("field %q: type mismatch", col.Name)
		}
		buf = append(buf, presentByte)
		encoded, fault, err := encodeValue(v)
		if err != nil {
			return nil, fault, err
		}
		buf = append(buf, encoded...)
	}
	for name := range props {
		if schema.ColumnIndex(name) < 0 {
			return nil, FaultUnknownField, fmt.Errorf("unknown field %q", name)
		}
	}
	return buf, 0, nil
}

func encodeValue(v Value) ([]byte, EncoderFault, error) {
	var tmp [8]byte
	switch v.Type {
	case TypeInt64, TypeDateTime:
		binary.BigEndian.PutUint64(tmp[:], uint64(v.I))
		return append([]byte{}, tmp[:8]...), 0, nil
	case TypeFloat:
		binary.BigEndian.PutUint64(tmp[:], float64bits(v.F))
		return append([]byte{}, tmp[:8]...), 0, nil
	case TypeBool:
		if v.B {
			return []byte{1}, 0, nil
		}
		return []byte{0}, 0, nil
	case TypeDate:
		binary.BigEndian.PutUint32(tmp[:4], uint32(v.I))
		return append([]byte{}, tmp[:4]...), 0, nil
	case TypeString:
		out := make([]byte, 4+len(v.S))
		binary.BigEndian.PutUint32(out[:4], uint32(len(v.S)))
		copy(out[4:], v.S)
		return out, 0, nil
	case TypeList:
		out := make([]byte, 0, 4)
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(v.L)))
		out = append(out, tmp[:4]...)
		for _, e := range v.L {
			enc, fault, err := encodeValue(e)
			if err != nil {
				return nil, fault, err
			}
			out = append(out, enc...)
		}
		return out, 0, nil
	default:
		return nil, FaultIncorrectValue, fmt.Errorf("unsupported value type %d", v.Type)
	}
}

func (simpleRowCodec) Decode(schema *Schema, raw []byte) (map[string]Value, error) {
	props := make(map[string]Value, len(schema.Columns))
	off := 0
	for _, col := range schema.Columns {
		if off >= len(raw) {
			return nil, fmt.Errorf("truncated row at field %q", col.Name)
		}
		present := raw[off]
		off++
		if present == absentByte {
			continue
		}
		v, n, err := decodeValue(col.Type, raw[off:])
		if err != nil {
			return nil, err
		}
		props[col.Name] = v
		off += n
	}
	return props, nil
}

func decodeValue(t ColumnType, raw []byte) (Value, int, error) {
	switch t {
	case TypeInt64, TypeDateTime:
		if len(raw) < 8 {
			return Value{}, 0, fmt.Errorf("truncated int64")
		}
		return Value{Type: t, I: int64(binary.BigEndian.Uint64(raw))}, 8, nil
	case TypeFloat:
		if len(raw) < 8 {
			return Value{}, 0, fmt.Errorf("truncated float")
		}
		return Value{Type: t, F: float64frombits(binary.BigEndian.Uint64(raw))}, 8, nil
	case TypeBool:
		if len(raw) < 1 {
			return Value{}, 0, fmt.Errorf("truncated bool")
		}
		return Value{Type: t, B: raw[0] != 0}, 1, nil
	case TypeDate:
		if len(raw) < 4 {
			return Value{}, 0, fmt.Errorf("truncated date")
		}
		return Value{Type: t, I: int64(binary.BigEndian.Uint32(raw))}, 4, nil
	case TypeString:
		if len(raw) < 4 {
			return Value{}, 0, fmt.Errorf("truncated string length")
		}
		n := int(binary.BigEndian.Uint32(raw))
		if len(raw) < 4+n {
			return Value{}, 0, fmt.Errorf("truncated string body")
		}
		return Value{Type: t, S: string(raw[4 : 4+n])}, 4 + n, nil
	case TypeList:
		if len(raw) < 4 {
			return Value{}, 0, fmt.Errorf("truncated list length")
		}
		n := int(binary.BigEndian.Uint32(raw))
		off := 4
		out := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			// Every list element is decoded as an int64; lists of other
			// element types do not round-trip.
			v, used, err := decodeValue(TypeInt64, raw[off:])
			if err != nil {
				return Value{}, 0, err
			}
			out = append(out, v)
			off += used
		}
		return Value{Type: t, L: out}, off, nil
	default:
		return Value{}, 0, fmt.Errorf("unsupported value type %d", t)
	}
}

func float64bits(f float64) uint64 {
	return math.Float64bits(f)
}

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
