package testutils

import (
	"context"
	"errors"
	"sync"

	"livecast/internal/core/domain"
)

// CollectSink is a playback sink that keeps every written segment in
// memory. Tests inspect what the player delivered without touching disk.
type CollectSink struct {
	mu       sync.Mutex
	segments []domain.MediaSegment
	resets   int
	closed   bool
}

func (s *CollectSink) SupportsNative() bool { return false }

func (s *CollectSink) PlayNative(ctx context.Context, manifestURL string) error {
	return errors.New("collect sink has no native playback")
}

func (s *CollectSink) WriteSegment(ctx context.Context, segment domain.MediaSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("collect sink closed")
	}
	copied := segment
	copied.Data = append([]byte(nil), segment.Data...)
	s.segments = append(s.segments, copied)
	return nil
}

func (s *CollectSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *CollectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Segments returns a copy of everything written so far.
func (s *CollectSink) Segments() []domain.MediaSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MediaSegment(nil), s.segments...)
}

// SegmentCount reports how many segments have been written.
func (s *CollectSink) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Resets reports how many discontinuities the player signalled.
func (s *CollectSink) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether the sink has been closed.
func (s *CollectSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
