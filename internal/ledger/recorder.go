package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

const writeTimeout = 5 * time.Second

// Logger is the subset of logging.Logger the recorder uses.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes engine events to a Repository.
type Recorder struct {
	repo Repository

	mu     sync.RWMutex
	logger Logger
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// SetLogger sets the logger for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Run records events until ctx is cancelled or events is closed.
// A failed write is logged and the next event is processed.
func (r *Recorder) Run(ctx context.Context, events <-chan camera.CameraEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			err := r.Record(wctx, ev)
			cancel()
			if err != nil {
				r.mu.RLock()
				logger := r.logger
				r.mu.RUnlock()
				if logger != nil {
					logger.Error("ledger write failed", "event", ev.Type, "error", err)
				}
			}
		}
	}
}

// Record writes one event. Events with nothing to record are ignored.
func (r *Recorder) Record(ctx context.Context, ev camera.CameraEvent) error {
	switch ev.Type {
	case camera.CameraEventCapture:
		if ev.Capture == nil {
			return nil
		}
		return r.repo.RecordCapture(ctx, &Capture{
			ID:         ev.Capture.ID,
			Status:     CaptureConfirmed,
			Burst:      ev.Capture.Burst,
			Duration:   ev.Elapsed,
			CapturedAt: ev.Capture.Timestamp,
		})

	case camera.CameraEventDownload:
		if ev.Object == nil {
			return nil
		}
		obj := ev.Object
		size := int64(len(obj.Data))
		if size == 0 {
			size = int64(obj.Info.Size) // #nosec G115 -- object sizes fit in int64
		}
		return r.repo.RecordDownload(ctx, &Download{
			ID:           obj.ID,
			Status:       DownloadOK,
			Handle:       uint32(obj.Handle),
			Filename:     obj.Info.Filename,
			Format:       obj.Info.Format,
			Size:         size,
			Duration:     ev.Elapsed,
			DownloadedAt: obj.CapturedAt,
		})

	case camera.CameraEventError:
		switch ev.Op {
		case "capture":
			return r.repo.RecordCapture(ctx, &Capture{
				Status:     CaptureFailed,
				Error:      ev.Message,
				Duration:   ev.Elapsed,
				CapturedAt: ev.Timestamp,
			})
		case "download":
			return r.repo.RecordDownload(ctx, &Download{
				Status:       DownloadFailed,
				Error:        ev.Message,
				DownloadedAt: ev.Timestamp,
			})
		}
	}
	return nil
}
