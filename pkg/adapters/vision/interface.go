package vision

import "context"

// FrameSource defines the contract for any camera/capture vendor
// implementation.
type FrameSource interface {
	// Name returns the source name for logging/metrics.
	Name() string
	// Start acquires the underlying device or stream.
	Start(ctx context.Context) error
	// Close releases the device.
	Close() error
	// CaptureFrame returns one encoded frame on demand. Transient
	// failures (device warming up, no frame yet) are expected and come
	// back as errors; callers skip the tick and try again later.
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Config contains vendor-agnostic capture configuration.
type Config struct {
	Width   int
	Height  int
	Quality int
}
