package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCapture  = "camera_capture"
	MeasurementDownload = "camera_download"
	MeasurementStatus   = "camera_status"
)

// CaptureSample is one capture attempt.
type CaptureSample struct {
	Time     time.Time
	Duration time.Duration
	Burst    bool
	Success  bool

	// Error is the bridge error code for a failed capture, e.g. "CONFIRMATION_TIMEOUT".
	Error string
}

// DownloadSample is one image pulled from the device.
type DownloadSample struct {
	Time     time.Time
	Bytes    int
	Duration time.Duration
	Format   uint16
}

// StatusSample is a periodic snapshot of camera health.
type StatusSample struct {
	Time          time.Time
	Connected     bool
	BatteryLevel  *int64
	PendingImages int
	Captures      uint64
	Downloads     uint64
	EventsDropped uint64
}

// WriteCapture records a capture attempt.
func (c *Client) WriteCapture(s CaptureSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(capturePoint(c.site, s))
}

// WriteDownload records a completed download.
func (c *Client) WriteDownload(s DownloadSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(downloadPoint(c.site, s))
}

// WriteStatus records a camera health snapshot.
func (c *Client) WriteStatus(s StatusSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statusPoint(c.site, s))
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
// The site tag is added unless tags already carries one.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	all := map[string]string{"site": c.site}
	for k, v := range tags {
		all[k] = v
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, all, fields, timestamp))
}

func capturePoint(site string, s CaptureSample) *write.Point {
	mode := "single"
	if s.Burst {
		mode = "burst"
	}
	tags := map[string]string{"site": site, "mode": mode}
	if s.Error != "" {
		tags["error"] = s.Error
	}
	return write.NewPoint(
		MeasurementCapture,
		tags,
		map[string]interface{}{
			"duration_ms": s.Duration.Milliseconds(),
			"success":     s.Success,
		},
		orNow(s.Time),
	)
}

func downloadPoint(site string, s DownloadSample) *write.Point {
	return write.NewPoint(
		MeasurementDownload,
		map[string]string{"site": site},
		map[string]interface{}{
			"bytes":       int64(s.Bytes),
			"duration_ms": s.Duration.Milliseconds(),
			"format":      int64(s.Format),
		},
		orNow(s.Time),
	)
}

func statusPoint(site string, s StatusSample) *write.Point {
	fields := map[string]interface{}{
		"connected":      s.Connected,
		"pending_images": int64(s.PendingImages),
		// #nosec G115 -- counters stay far below MaxInt64
		"captures":       int64(s.Captures),
		"downloads":      int64(s.Downloads),
		"events_dropped": int64(s.EventsDropped),
	}
	if s.BatteryLevel != nil {
		fields["battery"] = *s.BatteryLevel
	}
	return write.NewPoint(MeasurementStatus, map[string]string{"site": site}, fields, orNow(s.Time))
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
