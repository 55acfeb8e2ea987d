package streaming

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"livecast/internal/core/domain"
	rlog "livecast/pkg/logger"

	"go.uber.org/zap"
)

const segmentFilePattern = "seg-%05d.ts"

// indexName is the playlist written next to the segment files. Pointing a
// player at it replays the recording.
const indexName = "index.m3u8"

// Recorder writes a watched session to a local directory: one file per
// media segment plus an index playlist that is rewritten as segments land
// and sealed with an end-list marker on Close. It implements
// ports.PlaybackSink for livectl's watch mode.
//
// Reset does not discard anything already on disk. The recording keeps
// growing and the next segment is flagged as a discontinuity, which is what
// an in-place playback recovery looks like from the file's point of view.
type Recorder struct {
	dir    string
	logger *zap.SugaredLogger

	mu         sync.Mutex
	opened     bool
	closed     bool
	pending    bool // next segment starts a new span
	index      []recordedSegment
	totalBytes int64
}

type recordedSegment struct {
	name          string
	duration      float64
	discontinuity bool
}

// NewRecorder creates a recorder rooted at dir. The directory is created on
// the first segment, not up front, so a session that never plays leaves no
// trace on disk.
func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:    dir,
		logger: rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (r *Recorder) SetLogger(logger *zap.SugaredLogger) {
	r.logger = logger
}

// Dir returns the recording directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// SupportsNative reports false: the recorder consumes raw segments.
func (r *Recorder) SupportsNative() bool {
	return false
}

// PlayNative is never reached through the player, which checks
// SupportsNative first.
func (r *Recorder) PlayNative(ctx context.Context, manifestURL string) error {
	return fmt.Errorf("recorder does not play natively")
}

// WriteSegment persists one segment and refreshes the index playlist.
func (r *Recorder) WriteSegment(ctx context.Context, segment domain.MediaSegment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if !r.opened {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return fmt.Errorf("create recording directory: %w", err)
		}
		r.opened = true
	}

	name := fmt.Sprintf(segmentFilePattern, segment.Sequence)
	if err := os.WriteFile(filepath.Join(r.dir, name), segment.Data, 0o644); err != nil {
		return fmt.Errorf("write segment %d: %w", segment.Sequence, err)
	}

	r.index = append(r.index, recordedSegment{
		name:          name,
		duration:      segment.Duration,
		discontinuity: r.pending,
	})
	r.pending = false
	r.totalBytes += int64(len(segment.Data))

	if err := r.writeIndex(false); err != nil {
		return err
	}

	r.logger.Debugw("recorded segment",
		"sequence", segment.Sequence,
		"size", len(segment.Data),
		"duration", segment.Duration)
	return nil
}

// Reset marks the recording position instead of clearing it: the next
// segment is written with a discontinuity tag.
func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if len(r.index) > 0 {
		r.pending = true
	}
	return nil
}

// Close seals the index playlist. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if !r.opened {
		return nil
	}
	if err := r.writeIndex(true); err != nil {
		return err
	}

	r.logger.Infow("recording sealed",
		"dir", r.dir,
		"segments", len(r.index),
		"bytes", r.totalBytes)
	return nil
}

// writeIndex rewrites the index playlist from the recorded segment list.
// Caller holds the lock.
func (r *Recorder) writeIndex(final bool) error {
	target := 1.0
	for _, seg := range r.index {
		if seg.duration > target {
			target = seg.duration
		}
	}

	playlist := "#EXTM3U\n"
	playlist += "#EXT-X-VERSION:3\n"
	playlist += "#EXT-X-PLAYLIST-TYPE:EVENT\n"
	playlist += fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(target)))
	playlist += "#EXT-X-MEDIA-SEQUENCE:0\n"

	for _, seg := range r.index {
		if seg.discontinuity {
			playlist += "#EXT-X-DISCONTINUITY\n"
		}
		playlist += fmt.Sprintf("#EXTINF:%.3f,\n", seg.duration)
		playlist += seg.name + "\n"
	}

	if final {
		playlist += "#EXT-X-ENDLIST\n"
	}

	if err := os.WriteFile(filepath.Join(r.dir, indexName), []byte(playlist), 0o644); err != nil {
		return fmt.Errorf("write index playlist: %w", err)
	}
	return nil
}
