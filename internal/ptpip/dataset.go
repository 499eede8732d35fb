package ptpip

import (
	"fmt"

	"github.com/nerrad567/payload-core/internal/camera"
)

// Form flags in a property description.
const (
	formNone  = 0x00
	formRange = 0x01
	formEnum  = 0x02
)

// ExtDeviceInfo is the SDIO capability report returned during the handshake.
type ExtDeviceInfo struct {
	Version    uint16
	Properties []camera.PropertyCode
	Controls   []camera.ControlCode
}

func decodeExtDeviceInfo(b []byte) (ExtDeviceInfo, error) {
	d := newDecoder(b)
	info := ExtDeviceInfo{Version: d.u16()}
	n := int(d.u32())
	for i := 0; i < n && d.err() == nil; i++ {
		info.Properties = append(info.Properties, camera.PropertyCode(d.u16()))
	}
	if d.remaining() >= 4 {
		n = int(d.u32())
		for i := 0; i < n && d.err() == nil; i++ {
			info.Controls = append(info.Controls, camera.ControlCode(d.u16()))
		}
	}
	return info, d.err()
}

// decodePropertyList parses the SDIO GetAllExtDevicePropInfo dataset: a u64
// entry count followed by property descriptions.
func decodePropertyList(b []byte) ([]camera.PropertyInfo, error) {
	d := newDecoder(b)
	n := d.u64()
	if d.err() != nil {
		return nil, d.err()
	}
	// Each entry is at least 9 bytes; reject counts the payload cannot hold.
	if n > uint64(d.remaining()/9) {
		return nil, fmt.Errorf("%w: property count %d exceeds payload", ErrProtocol, n)
	}
	out := make([]camera.PropertyInfo, 0, n)
	for i := uint64(0); i < n; i++ {
		info, err := d.propertyInfo()
		if err != nil {
			return out, fmt.Errorf("property %d: %w", i, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *decoder) propertyInfo() (camera.PropertyInfo, error) {
	code := camera.PropertyCode(d.u16())
	dt := DataType(d.u16())
	getSet := d.u8()
	enabled := d.u8()

	info := camera.PropertyInfo{
		Code:     code,
		Writable: getSet == 1,
		Enabled:  enabled == 1,
	}
	var err error
	if info.Default, err = d.value(dt); err != nil {
		return info, err
	}
	if info.Current, err = d.value(dt); err != nil {
		return info, err
	}

	switch flag := d.u8(); flag {
	case formNone:
	case formRange:
		var r camera.ValueRange
		if r.Min, err = d.value(dt); err != nil {
			return info, err
		}
		if r.Max, err = d.value(dt); err != nil {
			return info, err
		}
		if r.Step, err = d.value(dt); err != nil {
			return info, err
		}
		info.Constraints = &camera.ValueSet{Range: &r}
	case formEnum:
		// Two lists follow: values that can be set, then values that can be
		// reported. The settable list is the constraint.
		settable, err := d.enumList(dt)
		if err != nil {
			return info, err
		}
		if _, err := d.enumList(dt); err != nil {
			return info, err
		}
		info.Constraints = &camera.ValueSet{Enum: settable}
	default:
		return info, fmt.Errorf("%w: form flag 0x%02X on %s", ErrProtocol, flag, code)
	}
	return info, d.err()
}

func (d *decoder) enumList(dt DataType) ([]camera.DeviceValue, error) {
	n := int(d.u16())
	vals := make([]camera.DeviceValue, 0, n)
	for range n {
		v, err := d.value(dt)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, d.err()
}

func decodeObjectInfo(b []byte) (camera.ObjectInfo, error) {
	d := newDecoder(b)
	var info camera.ObjectInfo
	info.StorageID = camera.StorageID(d.u32())
	info.Format = d.u16()
	_ = d.u16() // protection status
	info.Size = uint64(d.u32())
	_ = d.u16() // thumb format
	_ = d.u32() // thumb compressed size
	_ = d.u32() // thumb width
	_ = d.u32() // thumb height
	_ = d.u32() // image width
	_ = d.u32() // image height
	_ = d.u32() // bit depth
	info.ParentHandle = camera.ObjectHandle(d.u32())
	info.Association = d.u16()
	_ = d.u32() // association description
	_ = d.u32() // sequence number
	info.Filename = d.str()
	captured := d.str()
	modified := d.str()
	if d.remaining() > 0 {
		_ = d.str() // keywords
	}
	if err := d.err(); err != nil {
		return info, err
	}
	// A malformed date is not worth failing the transfer for.
	info.Captured, _ = ParseTime(captured)
	info.Modified, _ = ParseTime(modified)
	return info, nil
}

func decodeStorageInfo(id camera.StorageID, b []byte) (camera.StorageInfo, error) {
	d := newDecoder(b)
	info := camera.StorageInfo{ID: id}
	info.Type = d.u16()
	info.Filesystem = d.u16()
	_ = d.u16() // access capability
	info.Capacity = d.u64()
	info.Free = d.u64()
	_ = d.u32() // free space in images
	info.Description = d.str()
	info.Volume = d.str()
	return info, d.err()
}

func decodeU32Array(b []byte) ([]uint32, error) {
	d := newDecoder(b)
	n := int(d.u32())
	if n > d.remaining()/4 {
		return nil, fmt.Errorf("%w: array of %d exceeds payload", ErrProtocol, n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = d.u32()
	}
	return out, d.err()
}
