package simulator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"livecast/internal/core/domain"
	rlog "livecast/pkg/logger"

	"go.uber.org/zap"
)

const (
	// tsPacketSize is the fixed MPEG-TS packet length. Segment payloads
	// are built from whole sync-aligned packets so byte-level consumers
	// see plausible media.
	tsPacketSize      = 188
	tsSyncByte        = 0x47
	packetsPerSegment = 16
)

// Feed is one session's rolling segment window. A background producer
// appends a segment per tick and the window slides once full, the same
// motion a real packager gives a live playlist.
type Feed struct {
	session  domain.SessionID
	duration time.Duration
	window   int

	mu       sync.Mutex
	segments []feedSegment
	nextSeq  uint64
	closed   bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type feedSegment struct {
	seq  uint64
	data []byte
}

func (f *Feed) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.append()
		case <-f.stop:
			f.mu.Lock()
			f.closed = true
			f.mu.Unlock()
			return
		}
	}
}

func (f *Feed) append() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.segments = append(f.segments, feedSegment{
		seq:  f.nextSeq,
		data: syntheticSegment(f.session, f.nextSeq),
	})
	f.nextSeq++
	if len(f.segments) > f.window {
		f.segments = f.segments[1:]
	}
}

// Playlist renders the current window as a live media playlist. The media
// sequence advances as the window slides; a closed feed carries the
// end-list marker so players finish instead of reloading forever.
func (f *Feed) Playlist() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	mediaSeq := f.nextSeq
	if len(f.segments) > 0 {
		mediaSeq = f.segments[0].seq
	}

	playlist := "#EXTM3U\n"
	playlist += "#EXT-X-VERSION:3\n"
	playlist += fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(f.duration.Seconds())))
	playlist += fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)

	for _, seg := range f.segments {
		playlist += fmt.Sprintf("#EXTINF:%.3f,\n", f.duration.Seconds())
		playlist += fmt.Sprintf("/live/%s-%d.ts\n", f.session, seg.seq)
	}

	if f.closed {
		playlist += "#EXT-X-ENDLIST\n"
	}
	return playlist
}

// Segment returns the payload for a sequence still inside the window.
func (f *Feed) Segment(seq uint64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, seg := range f.segments {
		if seg.seq == seq {
			return seg.data, true
		}
	}
	return nil, false
}

// Close freezes the feed. The closed playlist stays serveable.
func (f *Feed) Close() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
	<-f.done
}

// FeedStore owns the per-session feeds.
type FeedStore struct {
	duration time.Duration
	window   int
	logger   *zap.SugaredLogger

	mu    sync.RWMutex
	feeds map[domain.SessionID]*Feed
}

func NewFeedStore(segmentDuration time.Duration, window int) *FeedStore {
	return &FeedStore{
		duration: segmentDuration,
		window:   window,
		feeds:    make(map[domain.SessionID]*Feed),
		logger:   rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (s *FeedStore) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// Start begins producing segments for the session. The first segment is
// written synchronously so the playlist is never empty. Starting a running
// feed is a no-op.
func (s *FeedStore) Start(session domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.feeds[session]; exists {
		return
	}

	f := &Feed{
		session:  session,
		duration: s.duration,
		window:   s.window,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	f.append()
	s.feeds[session] = f
	go f.run()

	s.logger.Infow("media feed started",
		"session_id", session,
		"segment_duration", s.duration,
		"window", s.window)
}

// Stop freezes the session's feed, leaving the closed playlist in place.
func (s *FeedStore) Stop(session domain.SessionID) {
	s.mu.RLock()
	f := s.feeds[session]
	s.mu.RUnlock()

	if f != nil {
		f.Close()
		s.logger.Infow("media feed closed", "session_id", session)
	}
}

// Playlist renders the session's playlist; false when no feed exists.
func (s *FeedStore) Playlist(session domain.SessionID) (string, bool) {
	s.mu.RLock()
	f := s.feeds[session]
	s.mu.RUnlock()

	if f == nil {
		return "", false
	}
	return f.Playlist(), true
}

// Segment returns a windowed segment payload; false once it slid out.
func (s *FeedStore) Segment(session domain.SessionID, seq uint64) ([]byte, bool) {
	s.mu.RLock()
	f := s.feeds[session]
	s.mu.RUnlock()

	if f == nil {
		return nil, false
	}
	return f.Segment(seq)
}

// CloseAll freezes every feed, used at shutdown.
func (s *FeedStore) CloseAll() {
	s.mu.RLock()
	feeds := make([]*Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.RUnlock()

	for _, f := range feeds {
		f.Close()
	}
}

// syntheticSegment builds a run of sync-aligned transport packets whose
// bytes derive from the session and sequence, so every segment is distinct
// without shipping real media.
func syntheticSegment(session domain.SessionID, seq uint64) []byte {
	state := seq + 1
	for _, ch := range []byte(session) {
		state = state*31 + uint64(ch)
	}

	data := make([]byte, packetsPerSegment*tsPacketSize)
	for i := range data {
		if i%tsPacketSize == 0 {
			data[i] = tsSyncByte
			continue
		}
		state = state*1103515245 + 12345
		data[i] = byte(state >> 16)
	}
	return data
}
