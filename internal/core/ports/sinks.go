package ports

import (
	"context"

	"livecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// CaptureSource acquires the local audio+video capture for publishing.
// Constraints are advisory: the handle reports what was actually granted.
type CaptureSource interface {
	Acquire(ctx context.Context) (CaptureHandle, error)
}

// CaptureHandle owns the acquired device. Close releases it and is safe to
// call more than once; every publisher exit path must reach it.
type CaptureHandle interface {
	Tracks() []webrtc.TrackLocal
	Settings() domain.TrackSettings
	PopulateEngine(engine *webrtc.MediaEngine) error
	Close() error
}

// PlaybackSink consumes the decoded side of playback. A sink that supports
// native adaptive playback is handed the manifest URL directly and the
// player skips its own fetch loop.
type PlaybackSink interface {
	SupportsNative() bool
	PlayNative(ctx context.Context, manifestURL string) error
	WriteSegment(ctx context.Context, segment domain.MediaSegment) error
	Reset() error
	Close() error
}
