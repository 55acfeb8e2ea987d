package services

import (
	"context"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	rlog "livecast/pkg/logger"
	"livecast/pkg/validation"

	"go.uber.org/zap"
)

const (
	DefaultActiveInterval  = 5 * time.Second
	DefaultRelaxedInterval = 15 * time.Second
)

// ViewerSync merges two independent viewer-count sources into one displayed
// number: a periodic poll of the counting endpoint and pushes arriving over
// the chat channel.
//
// The merge rule is strictly most-recent-sample-wins. A push updates the
// display immediately for responsiveness; every poll result overwrites the
// display regardless of pushes before it, making the poll the baseline of
// record. The two are never averaged, an average would mask a sudden real
// drop.
type ViewerSync struct {
	source ports.ViewerCountSource

	mu              sync.Mutex
	started         bool
	stopped         bool
	cancel          context.CancelFunc
	sessionID       domain.SessionID
	current         domain.ViewerCountSample
	hasSample       bool
	active          bool
	onUpdate        func(count int)
	activeInterval  time.Duration
	relaxedInterval time.Duration

	cadenceCh chan struct{}
	logger    *zap.SugaredLogger
}

// NewViewerSync creates a synchronizer polling the given source.
func NewViewerSync(source ports.ViewerCountSource) *ViewerSync {
	return &ViewerSync{
		source:          source,
		activeInterval:  DefaultActiveInterval,
		relaxedInterval: DefaultRelaxedInterval,
		cadenceCh:       make(chan struct{}, 1),
		logger:          rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (s *ViewerSync) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// SetIntervals overrides the poll cadences. Zero or negative values keep
// the current setting.
func (s *ViewerSync) SetIntervals(active, relaxed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active > 0 {
		s.activeInterval = active
	}
	if relaxed > 0 {
		s.relaxedInterval = relaxed
	}
}

// OnUpdate registers the display callback. It fires when the displayed
// value changes.
func (s *ViewerSync) OnUpdate(fn func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Start begins polling for the session. One ViewerSync serves one session.
func (s *ViewerSync) Start(ctx context.Context, sessionID domain.SessionID) error {
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	s.started = true
	s.sessionID = sessionID
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop ends polling and drops any sample that arrives afterwards.
// Idempotent.
func (s *ViewerSync) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Push feeds a count carried by a chat-channel event. Negative values are
// malformed and ignored.
func (s *ViewerSync) Push(count int) {
	if count < 0 {
		return
	}
	s.apply(domain.ViewerCountSample{
		Value:      count,
		Source:     domain.SourcePush,
		ObservedAt: time.Now(),
	})
}

// SetActive switches between the active and relaxed poll cadence. The
// running poll loop re-arms immediately.
func (s *ViewerSync) SetActive(active bool) {
	s.mu.Lock()
	if s.active == active {
		s.mu.Unlock()
		return
	}
	s.active = active
	s.mu.Unlock()

	select {
	case s.cadenceCh <- struct{}{}:
	default:
	}
}

// Current returns the displayed value and whether any sample has arrived.
func (s *ViewerSync) Current() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Value, s.hasSample
}

func (s *ViewerSync) run(ctx context.Context) {
	// Poll once immediately so the display has a baseline before the first
	// tick.
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cadenceCh:
			// Re-arm with the new cadence.
		case <-time.After(s.interval()):
			s.poll(ctx)
		}
	}
}

func (s *ViewerSync) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return s.activeInterval
	}
	return s.relaxedInterval
}

// poll fetches the authoritative count. A failed or malformed poll leaves
// the display unchanged and does not disturb the cadence.
func (s *ViewerSync) poll(ctx context.Context) {
	count, err := s.source.ViewerCount(ctx, s.sessionID)
	if err != nil {
		s.logger.Debugw("viewer count poll failed",
			"session_id", s.sessionID,
			"error", err)
		return
	}
	if count < 0 {
		s.logger.Debugw("discarding negative viewer count poll",
			"session_id", s.sessionID,
			"count", count)
		return
	}

	s.apply(domain.ViewerCountSample{
		Value:      count,
		Source:     domain.SourcePoll,
		ObservedAt: time.Now(),
	})
}

// apply installs the sample as most recent. Samples arriving after Stop are
// dropped. The callback fires outside the lock, only when the displayed
// value changed.
func (s *ViewerSync) apply(sample domain.ViewerCountSample) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	changed := !s.hasSample || s.current.Value != sample.Value
	s.current = sample
	s.hasSample = true
	fn := s.onUpdate
	s.mu.Unlock()

	if changed && fn != nil {
		fn(sample.Value)
	}
}
