package ptpip

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

const (
	// sdioKeyCode authenticates the SDIO connect phases.
	sdioKeyCode = 0xDA01

	// sdioExtVersion is the SDIO extension version requested (2.00).
	sdioExtVersion = 0x00C8

	// sessionID is the PTP session opened on each link.
	sessionID = 1

	// rootParent selects the storage root in GetObjectHandles.
	rootParent = 0xFFFFFFFF
)

// handshake opens the session and negotiates SDIO remote control.
// It runs with mu held on a link that is not yet published.
func (c *Client) handshake(ctx context.Context, l *link) (ExtDeviceInfo, error) {
	if _, _, err := l.transact(ctx, c, OpOpenSession, []uint32{sessionID}, nil); err != nil {
		if !IsResponse(err, RespSessionAlreadyOpen) {
			return ExtDeviceInfo{}, err
		}
		c.logDebug("session already open")
	}
	for _, phase := range []uint32{1, 2} {
		if _, _, err := l.transact(ctx, c, OpSdioConnect, []uint32{phase, sdioKeyCode, sdioKeyCode}, nil); err != nil {
			return ExtDeviceInfo{}, fmt.Errorf("connect phase %d: %w", phase, err)
		}
	}

	// The camera refuses GetExtDeviceInfo until it is ready for remote control.
	var (
		ext ExtDeviceInfo
		err error
	)
	for attempt := 0; attempt < c.cfg.HandshakeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ExtDeviceInfo{}, ctx.Err()
			case <-time.After(c.cfg.HandshakeSpacing):
			}
		}
		var data []byte
		if _, data, err = l.transact(ctx, c, OpSdioGetExtDevInfo, []uint32{sdioExtVersion}, nil); err == nil {
			ext, err = decodeExtDeviceInfo(data)
			break
		}
		if l.broken() != nil {
			break
		}
	}
	if err != nil {
		return ExtDeviceInfo{}, fmt.Errorf("device info: %w", err)
	}

	if _, _, err := l.transact(ctx, c, OpSdioConnect, []uint32{3, sdioKeyCode, sdioKeyCode}, nil); err != nil {
		return ExtDeviceInfo{}, fmt.Errorf("connect phase 3: %w", err)
	}
	return ext, nil
}

// Query returns every property the camera reports.
func (c *Client) Query(ctx context.Context) (map[camera.PropertyCode]camera.PropertyInfo, error) {
	_, data, err := c.transact(ctx, OpSdioGetAllExtInfo, nil, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodePropertyList(data)
	if err != nil {
		return nil, fmt.Errorf("decoding property list: %w", err)
	}
	props := make(map[camera.PropertyCode]camera.PropertyInfo, len(list))
	for _, p := range list {
		props[p.Code] = p
	}
	return props, nil
}

// Set writes a property value.
func (c *Client) Set(ctx context.Context, code camera.PropertyCode, value camera.DeviceValue) error {
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	_, _, err = c.transact(ctx, OpSdioSetExtProp, []uint32{uint32(code)}, data)
	return err
}

// Execute triggers a control.
func (c *Client) Execute(ctx context.Context, code camera.ControlCode, value camera.DeviceValue) error {
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	_, _, err = c.transact(ctx, OpSdioControlDevice, []uint32{uint32(code)}, data)
	return err
}

// ListStorage returns every storage the camera reports.
func (c *Client) ListStorage(ctx context.Context) ([]camera.StorageInfo, error) {
	_, data, err := c.transact(ctx, OpGetStorageIDs, nil, nil)
	if err != nil {
		return nil, err
	}
	ids, err := decodeU32Array(data)
	if err != nil {
		return nil, fmt.Errorf("decoding storage ids: %w", err)
	}
	out := make([]camera.StorageInfo, 0, len(ids))
	for _, id := range ids {
		_, data, err := c.transact(ctx, OpGetStorageInfo, []uint32{id}, nil)
		if err != nil {
			return nil, fmt.Errorf("storage 0x%08X: %w", id, err)
		}
		info, err := decodeStorageInfo(camera.StorageID(id), data)
		if err != nil {
			return nil, fmt.Errorf("decoding storage 0x%08X: %w", id, err)
		}
		out = append(out, info)
	}
	return out, nil
}

// ListObjects returns handles under parent. Parent 0 means the storage root.
func (c *Client) ListObjects(ctx context.Context, storage camera.StorageID, parent camera.ObjectHandle) ([]camera.ObjectHandle, error) {
	p := uint32(parent)
	if p == 0 {
		p = rootParent
	}
	_, data, err := c.transact(ctx, OpGetObjectHandles, []uint32{uint32(storage), 0, p}, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeU32Array(data)
	if err != nil {
		return nil, fmt.Errorf("decoding object handles: %w", err)
	}
	handles := make([]camera.ObjectHandle, len(raw))
	for i, h := range raw {
		handles[i] = camera.ObjectHandle(h)
	}
	return handles, nil
}

// ObjectInfo returns the metadata for an object.
func (c *Client) ObjectInfo(ctx context.Context, handle camera.ObjectHandle) (camera.ObjectInfo, error) {
	_, data, err := c.transact(ctx, OpGetObjectInfo, []uint32{uint32(handle)}, nil)
	if err != nil {
		return camera.ObjectInfo{}, err
	}
	info, err := decodeObjectInfo(data)
	if err != nil {
		return camera.ObjectInfo{}, fmt.Errorf("decoding object info: %w", err)
	}
	return info, nil
}

// ObjectData returns the full content of an object.
func (c *Client) ObjectData(ctx context.Context, handle camera.ObjectHandle) ([]byte, error) {
	start := time.Now()
	_, data, err := c.transact(ctx, OpGetObject, []uint32{uint32(handle)}, nil)
	if err != nil {
		return nil, err
	}
	c.logDebug("object transferred",
		"handle", fmt.Sprintf("0x%08X", uint32(handle)),
		"bytes", len(data),
		"duration", time.Since(start).String(),
	)
	return data, nil
}
