package ptpip

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/nerrad567/payload-core/internal/camera"
)

// DataType is a PTP datatype code.
type DataType uint16

// PTP datatype codes.
const (
	TypeUndefined DataType = 0x0000
	TypeInt8      DataType = 0x0001
	TypeUint8     DataType = 0x0002
	TypeInt16     DataType = 0x0003
	TypeUint16    DataType = 0x0004
	TypeInt32     DataType = 0x0005
	TypeUint32    DataType = 0x0006
	TypeInt64     DataType = 0x0007
	TypeUint64    DataType = 0x0008
	TypeInt128    DataType = 0x0009
	TypeUint128   DataType = 0x000A
	TypeString    DataType = 0xFFFF

	arrayFlag DataType = 0x4000
)

func (t DataType) isArray() bool { return t&arrayFlag != 0 && t != TypeString }

// elemSize is the byte width of a scalar datatype, or 0 if unknown.
func (t DataType) elemSize() int {
	switch t &^ arrayFlag {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32:
		return 4
	case TypeInt64, TypeUint64:
		return 8
	case TypeInt128, TypeUint128:
		return 16
	}
	return 0
}

var kindForType = map[DataType]camera.ValueKind{
	TypeInt8:               camera.KindInt8,
	TypeUint8:              camera.KindUint8,
	TypeInt16:              camera.KindInt16,
	TypeUint16:             camera.KindUint16,
	TypeInt32:              camera.KindInt32,
	TypeUint32:             camera.KindUint32,
	TypeInt64:              camera.KindInt64,
	TypeUint64:             camera.KindUint64,
	TypeString:             camera.KindString,
	arrayFlag | TypeUint8:  camera.KindUint8Array,
	arrayFlag | TypeUint16: camera.KindUint16Array,
	arrayFlag | TypeUint32: camera.KindUint32Array,
}

// TypeFor returns the PTP datatype that carries kind.
func TypeFor(kind camera.ValueKind) (DataType, bool) {
	for t, k := range kindForType {
		if k == kind {
			return t, true
		}
	}
	return TypeUndefined, false
}

// encoder appends little-endian PTP fields.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) raw(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

// utf16z writes a null-terminated UTF-16LE string with no length prefix,
// as used in the PTP/IP init packets.
func (e *encoder) utf16z(s string) {
	for _, c := range utf16.Encode([]rune(s)) {
		e.u16(c)
	}
	e.u16(0)
}

// str writes a PTP string: a u8 character count including the terminator,
// then UTF-16LE characters. The empty string is a single zero byte.
func (e *encoder) str(s string) {
	if s == "" {
		e.u8(0)
		return
	}
	units := utf16.Encode([]rune(s))
	if len(units) > 254 {
		units = units[:254]
	}
	e.u8(uint8(len(units) + 1))
	for _, c := range units {
		e.u16(c)
	}
	e.u16(0)
}

// scalar writes v using size bytes.
func (e *encoder) scalar(size int, v uint64) {
	switch size {
	case 1:
		e.u8(uint8(v))
	case 2:
		e.u16(uint16(v))
	case 4:
		e.u32(uint32(v))
	case 8:
		e.u64(v)
	}
}

// value writes v in its PTP encoding.
func (e *encoder) value(v camera.DeviceValue) error {
	t, ok := TypeFor(v.Kind())
	if !ok {
		return fmt.Errorf("%w: kind %s", ErrUnsupportedType, v.Kind())
	}
	switch {
	case t == TypeString:
		s, _ := v.Str()
		e.str(s)
	case t.isArray():
		elems, _ := v.Elems()
		e.u32(uint32(len(elems)))
		for _, x := range elems {
			e.scalar(t.elemSize(), x)
		}
	case v.Kind().Signed():
		n, _ := v.Int()
		e.scalar(t.elemSize(), uint64(n))
	default:
		n, _ := v.Uint()
		e.scalar(t.elemSize(), n)
	}
	return nil
}

// EncodeValue returns the PTP encoding of v.
func EncodeValue(v camera.DeviceValue) ([]byte, error) {
	e := newEncoder()
	if err := e.value(v); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

// decoder reads little-endian PTP fields. The first short read latches an
// error and every later read returns zero.
type decoder struct {
	buf   []byte
	off   int
	fault error
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) err() error { return d.fault }

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) take(n int) []byte {
	if d.fault != nil {
		return make([]byte, n)
	}
	if n < 0 || d.remaining() < n {
		d.fault = fmt.Errorf("%w: short read at offset %d (want %d, have %d)", ErrProtocol, d.off, n, d.remaining())
		return make([]byte, max(n, 0))
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 { return d.take(1)[0] }

func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }

func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }

func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }

func (d *decoder) utf16z() string {
	var units []uint16
	for d.fault == nil && d.remaining() >= 2 {
		c := d.u16()
		if c == 0 {
			break
		}
		units = append(units, c)
	}
	return string(utf16.Decode(units))
}

func (d *decoder) str() string {
	n := int(d.u8())
	if n == 0 {
		return ""
	}
	units := make([]uint16, 0, n)
	for range n {
		units = append(units, d.u16())
	}
	if len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}

func (d *decoder) scalar(size int) uint64 {
	switch size {
	case 1:
		return uint64(d.u8())
	case 2:
		return uint64(d.u16())
	case 4:
		return uint64(d.u32())
	case 8:
		return d.u64()
	}
	d.take(size)
	return 0
}

func signExtend(v uint64, size int) int64 {
	shift := 64 - 8*size
	return int64(v<<shift) >> shift
}

// value reads one value of type t. Types the camera model cannot hold
// are consumed and returned as the zero DeviceValue.
func (d *decoder) value(t DataType) (camera.DeviceValue, error) {
	if t == TypeString {
		return camera.String(d.str()), d.err()
	}
	size := t.elemSize()
	if size == 0 {
		return camera.DeviceValue{}, fmt.Errorf("%w: 0x%04X", ErrUnsupportedType, uint16(t))
	}
	if t.isArray() {
		n := int(d.u32())
		if n > d.remaining()/size {
			return camera.DeviceValue{}, fmt.Errorf("%w: array of %d exceeds payload", ErrProtocol, n)
		}
		elems := make([]uint64, n)
		for i := range elems {
			elems[i] = d.scalar(size)
		}
		kind, ok := kindForType[t]
		if !ok {
			return camera.DeviceValue{}, d.err()
		}
		return camera.Array(kind, elems), d.err()
	}
	raw := d.scalar(size)
	var v camera.DeviceValue
	switch t {
	case TypeInt8:
		v = camera.Int8(int8(signExtend(raw, 1)))
	case TypeUint8:
		v = camera.Uint8(uint8(raw))
	case TypeInt16:
		v = camera.Int16(int16(signExtend(raw, 2)))
	case TypeUint16:
		v = camera.Uint16(uint16(raw))
	case TypeInt32:
		v = camera.Int32(int32(signExtend(raw, 4)))
	case TypeUint32:
		v = camera.Uint32(uint32(raw))
	case TypeInt64:
		v = camera.Int64(int64(raw))
	case TypeUint64:
		v = camera.Uint64(raw)
	}
	return v, d.err()
}

// DecodeValue parses a single value of type t from b.
func DecodeValue(t DataType, b []byte) (camera.DeviceValue, error) {
	return newDecoder(b).value(t)
}

// PTP date-time layouts: "YYYYMMDDThhmmss" with optional tenths and an
// optional zone suffix.
var ptpTimeLayouts = []string{
	"20060102T150405.0Z0700",
	"20060102T150405Z0700",
	"20060102T150405.0",
	"20060102T150405",
}

// ParseTime parses a PTP DateTime string. An empty string yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range ptpTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad datetime %q", ErrProtocol, s)
}
