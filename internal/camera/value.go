package camera

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValueKind is the wire type tag of a DeviceValue.
type ValueKind uint8

// Supported value kinds.
const (
	KindInvalid ValueKind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindString
	KindUint8Array
	KindUint16Array
	KindUint32Array
)

var kindNames = [...]string{
	KindInvalid:     "invalid",
	KindInt8:        "int8",
	KindUint8:       "uint8",
	KindInt16:       "int16",
	KindUint16:      "uint16",
	KindInt32:       "int32",
	KindUint32:      "uint32",
	KindInt64:       "int64",
	KindUint64:      "uint64",
	KindString:      "string",
	KindUint8Array:  "uint8[]",
	KindUint16Array: "uint16[]",
	KindUint32Array: "uint32[]",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseValueKind converts a kind name such as "uint16" back to a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	for k, name := range kindNames {
		if k != int(KindInvalid) && strings.EqualFold(name, s) {
			return ValueKind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: unknown value kind %q", ErrInvalidValue, s)
}

// DeviceValue is a tagged union over the device's scalar and array types.
// Two values are equal only if both the kind and the value match.
//
// The zero value has KindInvalid and equals nothing but another zero value.
type DeviceValue struct {
	kind ValueKind
	num  uint64 // scalar payload; signed kinds are stored sign-extended
	str  string
	arr  []uint64
}

// Int8 returns an INT8 value.
func Int8(v int8) DeviceValue { return DeviceValue{kind: KindInt8, num: uint64(int64(v))} }

// Uint8 returns a UINT8 value.
func Uint8(v uint8) DeviceValue { return DeviceValue{kind: KindUint8, num: uint64(v)} }

// Int16 returns an INT16 value.
func Int16(v int16) DeviceValue { return DeviceValue{kind: KindInt16, num: uint64(int64(v))} }

// Uint16 returns a UINT16 value.
func Uint16(v uint16) DeviceValue { return DeviceValue{kind: KindUint16, num: uint64(v)} }

// Int32 returns an INT32 value.
func Int32(v int32) DeviceValue { return DeviceValue{kind: KindInt32, num: uint64(int64(v))} }

// Uint32 returns a UINT32 value.
func Uint32(v uint32) DeviceValue { return DeviceValue{kind: KindUint32, num: uint64(v)} }

// Int64 returns an INT64 value.
func Int64(v int64) DeviceValue { return DeviceValue{kind: KindInt64, num: uint64(v)} }

// Uint64 returns a UINT64 value.
func Uint64(v uint64) DeviceValue { return DeviceValue{kind: KindUint64, num: v} }

// String returns a STR value.
func String(v string) DeviceValue { return DeviceValue{kind: KindString, str: v} }

// Array returns an array value of the given array kind.
func Array(kind ValueKind, elems []uint64) DeviceValue {
	return DeviceValue{kind: kind, arr: slices.Clone(elems)}
}

// Kind returns the value's type tag.
func (v DeviceValue) Kind() ValueKind { return v.kind }

// IsValid reports whether v carries a value.
func (v DeviceValue) IsValid() bool { return v.kind != KindInvalid }

// Signed reports whether the kind is a signed integer.
func (k ValueKind) Signed() bool {
	return k == KindInt8 || k == KindInt16 || k == KindInt32 || k == KindInt64
}

// Scalar reports whether the kind is an integer scalar.
func (k ValueKind) Scalar() bool {
	return k >= KindInt8 && k <= KindUint64
}

// Uint returns the value of an unsigned scalar.
func (v DeviceValue) Uint() (uint64, bool) {
	if !v.kind.Scalar() || v.kind.Signed() {
		return 0, false
	}
	return v.num, true
}

// Int returns the value of a signed scalar.
func (v DeviceValue) Int() (int64, bool) {
	if !v.kind.Signed() {
		return 0, false
	}
	return int64(v.num), true
}

// Str returns the value of a STR value.
func (v DeviceValue) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Elems returns the elements of an array value.
func (v DeviceValue) Elems() ([]uint64, bool) {
	switch v.kind {
	case KindUint8Array, KindUint16Array, KindUint32Array:
		return slices.Clone(v.arr), true
	}
	return nil, false
}

// AsUint8 returns the value if it is exactly UINT8.
func (v DeviceValue) AsUint8() (uint8, bool) {
	if v.kind != KindUint8 {
		return 0, false
	}
	return uint8(v.num), true
}

// AsUint16 returns the value if it is exactly UINT16.
func (v DeviceValue) AsUint16() (uint16, bool) {
	if v.kind != KindUint16 {
		return 0, false
	}
	return uint16(v.num), true
}

// AsUint32 returns the value if it is exactly UINT32.
func (v DeviceValue) AsUint32() (uint32, bool) {
	if v.kind != KindUint32 {
		return 0, false
	}
	return uint32(v.num), true
}

// Equal reports type-and-value equality.
func (v DeviceValue) Equal(o DeviceValue) bool {
	return v.kind == o.kind && v.num == o.num && v.str == o.str && slices.Equal(v.arr, o.arr)
}

func (v DeviceValue) String() string {
	switch {
	case v.kind == KindInvalid:
		return "<invalid>"
	case v.kind == KindString:
		return strconv.Quote(v.str)
	case v.kind.Signed():
		return fmt.Sprintf("%s(%d)", v.kind, int64(v.num))
	case v.kind.Scalar():
		return fmt.Sprintf("%s(0x%X)", v.kind, v.num)
	default:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = strconv.FormatUint(e, 10)
		}
		return fmt.Sprintf("%s[%s]", v.kind, strings.Join(parts, ","))
	}
}

// ParseDeviceValue builds a value of the given kind from its text form.
// Integers accept any base understood by strconv (e.g. "0x8000").
func ParseDeviceValue(kind ValueKind, s string) (DeviceValue, error) {
	s = strings.TrimSpace(s)
	bits := map[ValueKind]int{
		KindInt8: 8, KindUint8: 8, KindInt16: 16, KindUint16: 16,
		KindInt32: 32, KindUint32: 32, KindInt64: 64, KindUint64: 64,
	}
	switch {
	case kind == KindString:
		return String(s), nil
	case kind.Signed():
		n, err := strconv.ParseInt(s, 0, bits[kind])
		if err != nil {
			return DeviceValue{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		return DeviceValue{kind: kind, num: uint64(n)}, nil
	case kind.Scalar():
		n, err := strconv.ParseUint(s, 0, bits[kind])
		if err != nil {
			return DeviceValue{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		return DeviceValue{kind: kind, num: n}, nil
	}
	return DeviceValue{}, fmt.Errorf("%w: cannot parse %s", ErrInvalidValue, kind)
}

// jsonValue is the wire form used by the API and MQTT bridge.
type jsonValue struct {
	Kind  string   `json:"kind"`
	Value any      `json:"value"`
	Elems []uint64 `json:"elems,omitempty"`
}

// MarshalJSON encodes the value as {"kind": "...", "value": ...}.
func (v DeviceValue) MarshalJSON() ([]byte, error) {
	out := jsonValue{Kind: v.kind.String()}
	switch {
	case v.kind == KindString:
		out.Value = v.str
	case v.kind.Signed():
		out.Value = int64(v.num)
	case v.kind.Scalar():
		out.Value = v.num
	default:
		out.Elems = v.arr
	}
	return json.Marshal(out)
}
