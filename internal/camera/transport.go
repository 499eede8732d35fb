package camera

import (
	"context"
	"time"
)

// Transport is the raw command/event link to one device.
//
// Implementations are not required to be safe for concurrent use: the
// Interface serializer is the only caller once an engine is running. The
// context passed to each method carries the transaction deadline only.
type Transport interface {
	// Connect opens the session and performs the vendor handshake.
	Connect(ctx context.Context) error

	// Disconnect closes the session. It is safe to call when not connected.
	Disconnect(ctx context.Context) error

	// Query returns every property the device currently reports.
	Query(ctx context.Context) (map[PropertyCode]PropertyInfo, error)

	// Set writes a property value. The device applies it asynchronously.
	Set(ctx context.Context, code PropertyCode, value DeviceValue) error

	// Execute triggers a control with the given payload.
	Execute(ctx context.Context, code ControlCode, value DeviceValue) error

	// Recv waits up to timeout for one device event. A nil event with a
	// nil error means nothing arrived.
	Recv(ctx context.Context, timeout time.Duration) (*Event, error)

	// ListStorage returns the device's storages.
	ListStorage(ctx context.Context) ([]StorageInfo, error)

	// ListObjects returns object handles under parent in storage.
	ListObjects(ctx context.Context, storage StorageID, parent ObjectHandle) ([]ObjectHandle, error)

	// ObjectInfo returns the metadata for an object.
	ObjectInfo(ctx context.Context, handle ObjectHandle) (ObjectInfo, error)

	// ObjectData returns the full content of an object.
	ObjectData(ctx context.Context, handle ObjectHandle) ([]byte, error)
}

// ValueSet constrains the values a property accepts.
// Exactly one of Range or Enum is set.
type ValueSet struct {
	Range *ValueRange   `json:"range,omitempty"`
	Enum  []DeviceValue `json:"enum,omitempty"`
}

// ValueRange is an inclusive stepped range.
type ValueRange struct {
	Min  DeviceValue `json:"min"`
	Max  DeviceValue `json:"max"`
	Step DeviceValue `json:"step"`
}

// PropertyInfo is the device's description of one property.
type PropertyInfo struct {
	Code        PropertyCode `json:"code"`
	Current     DeviceValue  `json:"current"`
	Default     DeviceValue  `json:"default"`
	Writable    bool         `json:"writable"`
	Enabled     bool         `json:"enabled"`
	Constraints *ValueSet    `json:"constraints,omitempty"`
}

// Event is an asynchronous notification from the device.
type Event struct {
	Code   EventCode
	Params []uint32
}

// ObjectInfo describes an object on the device.
type ObjectInfo struct {
	StorageID    StorageID    `json:"storage_id"`
	Format       uint16       `json:"format"`
	Size         uint64       `json:"size"`
	Filename     string       `json:"filename"`
	Captured     time.Time    `json:"captured,omitzero"`
	Modified     time.Time    `json:"modified,omitzero"`
	ParentHandle ObjectHandle `json:"parent"`
	Association  uint16       `json:"association"`
}

// StorageInfo describes a storage on the device.
type StorageInfo struct {
	ID          StorageID `json:"id"`
	Type        uint16    `json:"type"`
	Filesystem  uint16    `json:"filesystem"`
	Capacity    uint64    `json:"capacity"`
	Free        uint64    `json:"free"`
	Description string    `json:"description"`
	Volume      string    `json:"volume"`
}

// ObjectEntry pairs a handle with its metadata.
type ObjectEntry struct {
	Handle ObjectHandle `json:"handle"`
	Info   ObjectInfo   `json:"info"`
}

// DownloadedObject is an image retrieved from the device.
type DownloadedObject struct {
	ID         string       `json:"id"`
	Handle     ObjectHandle `json:"handle"`
	Info       ObjectInfo   `json:"info"`
	Data       []byte       `json:"-"`
	CapturedAt time.Time    `json:"captured_at"`

	// FetchDuration covers the info and data transactions.
	FetchDuration time.Duration `json:"-"`
}
