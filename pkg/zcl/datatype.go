package zcl

import (
	"bytes"
	"fmt"
)

// DataType is the wire type of an attribute value. Only the subset used by
// the built-in cluster definitions is modelled; unknown types still decode
// as opaque payload at the frame layer.
type DataType uint8

const (
	TypeNoData   DataType = 0x00
	TypeBool     DataType = 0x10
	TypeBitmap8  DataType = 0x18
	TypeBitmap16 DataType = 0x19
	TypeUint8    DataType = 0x20
	TypeUint16   DataType = 0x21
	TypeUint24   DataType = 0x22
	TypeUint32   DataType = 0x23
	TypeInt8     DataType = 0x28
	TypeInt16    DataType = 0x29
	TypeInt32    DataType = 0x2b
	TypeEnum8    DataType = 0x30
	TypeEnum16   DataType = 0x31
	TypeOctetStr DataType = 0x41
	TypeCharStr  DataType = 0x42
	TypeIEEEAddr DataType = 0xf0
)

var dataTypeNames = map[DataType]string{
	TypeNoData:   "noData",
	TypeBool:     "bool",
	TypeBitmap8:  "bitmap8",
	TypeBitmap16: "bitmap16",
	TypeUint8:    "uint8",
	TypeUint16:   "uint16",
	TypeUint24:   "uint24",
	TypeUint32:   "uint32",
	TypeInt8:     "int8",
	TypeInt16:    "int16",
	TypeInt32:    "int32",
	TypeEnum8:    "enum8",
	TypeEnum16:   "enum16",
	TypeOctetStr: "octetStr",
	TypeCharStr:  "charStr",
	TypeIEEEAddr: "ieeeAddr",
}

func (t DataType) String() string {
	if n, ok := dataTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type0x%02x", uint8(t))
}

// Analog reports whether the type is an analog quantity, which determines
// whether a reporting configuration carries a reportable-change field.
func (t DataType) Analog() bool {
	switch t {
	case TypeUint8, TypeUint16, TypeUint24, TypeUint32, TypeInt8, TypeInt16, TypeInt32:
		return true
	}
	return false
}

// normalizeValue converts v to the canonical in-memory representation for t:
// bool, uint64 for unsigned/bitmap/enum types, int64 for signed types,
// string for charStr, []byte for octetStr. Canonical values make the
// order-independent payload comparison in the dedup filter a plain equality.
func normalizeValue(t DataType, v any) (any, error) {
	switch t {
	case TypeNoData:
		return nil, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s value: want bool, got %T", t, v)
		}
		return b, nil
	case TypeBitmap8, TypeBitmap16, TypeUint8, TypeUint16, TypeUint24, TypeUint32,
		TypeEnum8, TypeEnum16, TypeIEEEAddr:
		u, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%s value: want unsigned integer, got %T", t, v)
		}
		return u, nil
	case TypeInt8, TypeInt16, TypeInt32:
		i, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%s value: want integer, got %T", t, v)
		}
		return i, nil
	case TypeOctetStr:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%s value: want []byte, got %T", t, v)
		}
		return b, nil
	case TypeCharStr:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s value: want string, got %T", t, v)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported data type %s", t)
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// valueEqual compares two canonical attribute values.
func valueEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}

func (t DataType) size() int {
	switch t {
	case TypeNoData:
		return 0
	case TypeBool, TypeBitmap8, TypeUint8, TypeInt8, TypeEnum8:
		return 1
	case TypeBitmap16, TypeUint16, TypeInt16, TypeEnum16:
		return 2
	case TypeUint24:
		return 3
	case TypeUint32, TypeInt32:
		return 4
	case TypeIEEEAddr:
		return 8
	default:
		return -1
	}
}

func appendValue(b []byte, t DataType, v any) ([]byte, error) {
	switch t {
	case TypeNoData:
		return b, nil
	case TypeBool:
		if v.(bool) {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case TypeOctetStr:
		s := v.([]byte)
		if len(s) > 0xfe {
			return nil, fmt.Errorf("octetStr too long: %d", len(s))
		}
		return append(append(b, uint8(len(s))), s...), nil
	case TypeCharStr:
		s := v.(string)
		if len(s) > 0xfe {
			return nil, fmt.Errorf("charStr too long: %d", len(s))
		}
		return append(append(b, uint8(len(s))), s...), nil
	}
	n := t.size()
	if n < 0 {
		return nil, fmt.Errorf("unsupported data type %s", t)
	}
	var u uint64
	switch x := v.(type) {
	case uint64:
		u = x
	case int64:
		u = uint64(x)
	default:
		return nil, fmt.Errorf("%s value: unexpected %T", t, v)
	}
	for i := 0; i < n; i++ {
		b = append(b, uint8(u>>(8*i)))
	}
	return b, nil
}

func (r *reader) value(t DataType) any {
	switch t {
	case TypeNoData:
		return nil
	case TypeBool:
		return r.u8() != 0
	case TypeOctetStr:
		return r.bytes(int(r.u8()))
	case TypeCharStr:
		return string(r.bytes(int(r.u8())))
	}
	n := t.size()
	if n < 0 {
		r.fail(fmt.Errorf("unsupported data type %s", t))
		return nil
	}
	var u uint64
	for i := 0; i < n; i++ {
		u |= uint64(r.u8()) << (8 * i)
	}
	switch t {
	case TypeInt8:
		return int64(int8(u))
	case TypeInt16:
		return int64(int16(u))
	case TypeInt32:
		return int64(int32(u))
	}
	return u
}
