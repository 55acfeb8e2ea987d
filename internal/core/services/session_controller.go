package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	rlog "livecast/pkg/logger"
	"livecast/pkg/validation"

	"go.uber.org/zap"
)

const (
	// DefaultMessageBuffer caps the snapshot's message list. Oldest entries
	// are evicted first.
	DefaultMessageBuffer = 200

	eventBuffer    = 128
	snapshotBuffer = 32
)

// Component factories. Each call must return an unstarted component that
// holds no resources yet: acquisition happens inside the component's own
// Start, inside the session the controller opens for it.
type (
	PublisherFactory func() ports.MediaPublisher
	PlayerFactory    func() ports.MediaPlayer
	SinkFactory      func() ports.PlaybackSink
	ChannelFactory   func(identity domain.SessionIdentity) ports.ChatChannel
)

type eventKind int

const (
	eventPublisherState eventKind = iota
	eventPlaybackState
	eventChannelState
	eventChatMessage
	eventViewerCount
	eventSessionFatal
)

// controllerEvent is one sub-component callback, reified. Every event is
// stamped with the epoch of the session that produced it so the fold can
// discard callbacks from a superseded session.
type controllerEvent struct {
	epoch     int
	kind      eventKind
	pubState  domain.ConnectionState
	playState domain.PlaybackState
	chanState domain.ChannelState
	detail    string
	message   domain.ChatEvent
	count     int
}

// activeSession is the state owned by one StartPublishing/StartViewing call.
// Only the fold goroutine mutates the snapshot.
type activeSession struct {
	epoch     int
	identity  domain.SessionIdentity
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	publisher ports.MediaPublisher
	player    ports.MediaPlayer
	channel   ports.ChatChannel
	viewers   *ViewerSync

	out    chan domain.SessionSnapshot
	stopCh chan struct{}
	done   chan struct{}

	stopOnce   sync.Once
	finishOnce sync.Once

	mu       sync.Mutex
	snapshot domain.SessionSnapshot
}

// SessionController is the façade over one live session. It runs the media
// component for the session's role next to the chat channel and the viewer
// count synchronizer, and folds their callbacks into a stream of snapshot
// copies. One session is active at a time; after Stop or a terminal media
// state a new Start opens a fresh session with fresh components.
type SessionController struct {
	newPublisher PublisherFactory
	newPlayer    PlayerFactory
	newSink      SinkFactory
	newChannel   ChannelFactory
	resolver     ports.SessionResolver
	counts       ports.ViewerCountSource

	messageLimit    int
	activeInterval  time.Duration
	relaxedInterval time.Duration
	metrics         ports.RuntimeMetrics

	events chan controllerEvent

	mu      sync.Mutex
	epoch   int
	current *activeSession

	logger *zap.SugaredLogger
}

// NewSessionController creates a controller. newChannel and counts are
// required; newPublisher is needed for publishing sessions, newPlayer,
// newSink and resolver for viewing sessions.
func NewSessionController(
	newPublisher PublisherFactory,
	newPlayer PlayerFactory,
	newSink SinkFactory,
	newChannel ChannelFactory,
	resolver ports.SessionResolver,
	counts ports.ViewerCountSource,
) *SessionController {
	return &SessionController{
		newPublisher: newPublisher,
		newPlayer:    newPlayer,
		newSink:      newSink,
		newChannel:   newChannel,
		resolver:     resolver,
		counts:       counts,
		messageLimit: DefaultMessageBuffer,
		events:       make(chan controllerEvent, eventBuffer),
		logger:       rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (c *SessionController) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
}

// SetMessageLimit overrides the message list cap. Zero or negative keeps
// the current setting.
func (c *SessionController) SetMessageLimit(limit int) {
	if limit > 0 {
		c.messageLimit = limit
	}
}

// SetViewerIntervals overrides the viewer poll cadences for sessions
// started afterwards.
func (c *SessionController) SetViewerIntervals(active, relaxed time.Duration) {
	c.activeInterval = active
	c.relaxedInterval = relaxed
}

// SetMetrics attaches a runtime metrics sink. Without one the controller
// records nothing.
func (c *SessionController) SetMetrics(m ports.RuntimeMetrics) {
	c.metrics = m
}

// StartPublishing opens a publishing session. The returned stream carries
// snapshot copies until the session ends, then closes. An identity missing
// a required field fails fast: the stream already holds a single Failed
// snapshot and the error names the problem.
func (c *SessionController) StartPublishing(identity domain.SessionIdentity) (<-chan domain.SessionSnapshot, error) {
	if err := validatePublishIdentity(identity); err != nil {
		return failedStream(identity, domain.RolePublisher, err), err
	}
	if c.newPublisher == nil {
		return nil, apperrors.NewInvalidInputError("publishing is not configured")
	}

	s := c.newSession(identity, domain.RolePublisher)
	s.publisher = c.newPublisher()
	if err := c.install(s); err != nil {
		s.cancel()
		return nil, err
	}

	c.wire(s)
	go c.fold(s)

	if err := s.publisher.Start(s.ctx, identity); err != nil {
		c.post(s, controllerEvent{kind: eventSessionFatal, detail: fmt.Sprintf("publisher start failed: %v", err)})
	}
	c.startShared(s)

	if c.metrics != nil {
		c.metrics.SessionStarted(domain.RolePublisher)
	}
	c.logger.Infow("live session started",
		"session_id", identity.SessionID,
		"role", domain.RolePublisher,
	)
	return s.out, nil
}

// StartViewing opens a viewing session. The manifest location is resolved
// in the background, so the stream reports Connecting until the player
// takes over.
func (c *SessionController) StartViewing(identity domain.SessionIdentity) (<-chan domain.SessionSnapshot, error) {
	if err := validateViewIdentity(identity); err != nil {
		return failedStream(identity, domain.RoleViewer, err), err
	}
	if c.newPlayer == nil || c.newSink == nil || c.resolver == nil {
		return nil, apperrors.NewInvalidInputError("viewing is not configured")
	}

	s := c.newSession(identity, domain.RoleViewer)
	s.player = c.newPlayer()
	sink := c.newSink()
	if err := c.install(s); err != nil {
		s.cancel()
		return nil, err
	}

	c.wire(s)
	go c.fold(s)
	go c.startPlayback(s, sink)
	c.startShared(s)

	if c.metrics != nil {
		c.metrics.SessionStarted(domain.RoleViewer)
	}
	c.logger.Infow("live session started",
		"session_id", identity.SessionID,
		"role", domain.RoleViewer,
	)
	return s.out, nil
}

// Stop tears the active session down and blocks until every owned
// component has been stopped and the snapshot stream is final. Safe to
// call more than once and with no session active.
func (c *SessionController) Stop() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// SendChat delegates to the session's chat channel. It reports false when
// no session is active or the channel declined the message.
func (c *SessionController) SendChat(body string) bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil || s.channel == nil {
		return false
	}
	sent := s.channel.Send(body)
	if sent && c.metrics != nil {
		c.metrics.ChatMessage(ports.DirectionOut)
	}
	return sent
}

// RetryPlayback asks the player to retry after a playback error. It does
// nothing unless a viewing session is active.
func (c *SessionController) RetryPlayback() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil || s.player == nil {
		return
	}
	s.player.Retry()
}

// TrackSettings reports what the capture device actually granted. Nil
// unless a publishing session is active.
func (c *SessionController) TrackSettings() *domain.TrackSettings {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil || s.publisher == nil {
		return nil
	}
	return s.publisher.TrackSettings()
}

// Snapshot returns a copy of the current snapshot, or the zero value when
// no session is active.
func (c *SessionController) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return domain.SessionSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

func (c *SessionController) newSession(identity domain.SessionIdentity, role domain.SessionRole) *activeSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &activeSession{
		identity:  identity,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		channel:   c.newChannel(identity),
		viewers:   NewViewerSync(c.counts),
		out:       make(chan domain.SessionSnapshot, snapshotBuffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		snapshot: domain.SessionSnapshot{
			SessionID: identity.SessionID,
			Role:      role,
			State:     domain.StateIdle,
		},
	}
	s.viewers.SetLogger(c.logger)
	s.viewers.SetIntervals(c.activeInterval, c.relaxedInterval)
	return s
}

func (c *SessionController) install(s *activeSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return domain.ErrAlreadyStarted
	}
	c.epoch++
	s.epoch = c.epoch
	c.current = s
	return nil
}

// wire registers the per-component callbacks. Everything funnels into the
// shared event channel except viewer count pushes, which feed the
// synchronizer and come back as a single update stream.
func (c *SessionController) wire(s *activeSession) {
	if s.publisher != nil {
		s.publisher.OnStateChange(func(state domain.ConnectionState, detail string) {
			c.post(s, controllerEvent{kind: eventPublisherState, pubState: state, detail: detail})
		})
	}
	if s.player != nil {
		s.player.OnStateChange(func(state domain.PlaybackState, detail string) {
			c.post(s, controllerEvent{kind: eventPlaybackState, playState: state, detail: detail})
		})
	}
	s.channel.OnEvent(func(ev domain.ChatEvent) {
		c.post(s, controllerEvent{kind: eventChatMessage, message: ev})
	})
	s.channel.OnViewerCount(func(count int) {
		s.viewers.Push(count)
	})
	s.channel.OnStateChange(func(state domain.ChannelState, detail string) {
		c.post(s, controllerEvent{kind: eventChannelState, chanState: state, detail: detail})
	})
	s.viewers.OnUpdate(func(count int) {
		c.post(s, controllerEvent{kind: eventViewerCount, count: count})
	})
}

func (c *SessionController) startShared(s *activeSession) {
	if err := s.channel.Connect(s.ctx); err != nil {
		c.logger.Warnw("chat channel start failed", "session_id", s.identity.SessionID, "error", err)
	}
	if err := s.viewers.Start(s.ctx, s.identity.SessionID); err != nil {
		c.logger.Warnw("viewer sync start failed", "session_id", s.identity.SessionID, "error", err)
	}
}

// startPlayback resolves the manifest location and hands the sink to the
// player. On every path where the player does not take ownership the sink
// is closed here.
func (c *SessionController) startPlayback(s *activeSession, sink ports.PlaybackSink) {
	c.post(s, controllerEvent{kind: eventPlaybackState, playState: domain.PlaybackLoading, detail: "resolving session"})

	info, err := c.resolver.Resolve(s.ctx, s.identity.SessionID)
	if err != nil {
		c.post(s, controllerEvent{kind: eventSessionFatal, detail: fmt.Sprintf("session lookup failed: %v", err)})
		c.closeSink(sink)
		return
	}
	if info.HLSURL == "" {
		c.post(s, controllerEvent{kind: eventSessionFatal, detail: "session has no playback manifest"})
		c.closeSink(sink)
		return
	}

	if err := s.player.Start(s.ctx, info.HLSURL, sink); err != nil {
		c.post(s, controllerEvent{kind: eventSessionFatal, detail: fmt.Sprintf("playback start failed: %v", err)})
		c.closeSink(sink)
	}
}

// post stamps the event with the session's epoch and queues it for the
// fold. Posting stops once the session is done, so a late callback from a
// stopped component goes nowhere.
func (c *SessionController) post(s *activeSession, ev controllerEvent) {
	ev.epoch = s.epoch
	// The session context is cancelled before components are stopped, so a
	// callback fired from inside teardown can never block here while the
	// fold goroutine is busy finishing.
	select {
	case c.events <- ev:
	case <-s.ctx.Done():
	case <-s.done:
	}
}

// fold is the only goroutine that mutates the session snapshot. It applies
// events in arrival order, emits a copy after each applied event and exits
// on Stop or on a terminal media state.
func (c *SessionController) fold(s *activeSession) {
	c.emit(s)
	for {
		select {
		case ev := <-c.events:
			if ev.epoch != s.epoch {
				continue
			}
			terminal := c.apply(s, ev)
			c.emit(s)
			if terminal {
				c.finish(s, string(s.state()))
				c.clearSession(s)
				close(s.out)
				return
			}
		case <-s.stopCh:
			c.finish(s, "stopped")
			c.clearSession(s)
			close(s.out)
			return
		}
	}
}

// apply folds one event into the snapshot and reports whether the session
// is over. The headline State follows the media component alone; chat and
// viewer events only touch StatusMessage, ViewerCount and Messages.
// StatusMessage is last-writer-wins advisory text.
func (c *SessionController) apply(s *activeSession, ev controllerEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.kind {
	case eventPublisherState:
		s.snapshot.State = ev.pubState
		s.snapshot.StatusMessage = ev.detail
		s.viewers.SetActive(ev.pubState == domain.StateActive)
		if c.metrics != nil {
			c.metrics.ComponentState(ports.ComponentPublisher, string(ev.pubState))
		}
		c.logger.Debugw("session state changed",
			"session_id", s.identity.SessionID,
			"state", ev.pubState,
			"detail", ev.detail,
		)
		return ev.pubState.Terminal()

	case eventPlaybackState:
		state, terminal := foldPlaybackState(ev.playState)
		s.snapshot.State = state
		s.snapshot.StatusMessage = ev.detail
		s.viewers.SetActive(ev.playState == domain.PlaybackPlaying)
		if c.metrics != nil {
			c.metrics.ComponentState(ports.ComponentPlayback, string(ev.playState))
		}
		c.logger.Debugw("session state changed",
			"session_id", s.identity.SessionID,
			"state", state,
			"playback_state", ev.playState,
			"detail", ev.detail,
		)
		return terminal

	case eventChannelState:
		if c.metrics != nil {
			c.metrics.ComponentState(ports.ComponentChat, string(ev.chanState))
		}
		if ev.chanState == domain.ChannelAbandoned {
			s.snapshot.StatusMessage = "chat unavailable: " + ev.detail
		}

	case eventChatMessage:
		if ev.message.Kind == domain.EventError {
			s.snapshot.StatusMessage = ev.message.Body
			break
		}
		s.appendMessageLocked(ev.message, c.messageLimit)
		if c.metrics != nil {
			c.metrics.ChatMessage(ports.DirectionIn)
		}

	case eventViewerCount:
		s.snapshot.ViewerCount = ev.count
		if c.metrics != nil {
			c.metrics.ViewerCount(ev.count)
		}

	case eventSessionFatal:
		s.snapshot.State = domain.StateFailed
		s.snapshot.StatusMessage = ev.detail
		return true
	}
	return false
}

// emit pushes a snapshot copy to the subscriber. A slow reader loses the
// oldest buffered snapshot, never the newest.
func (c *SessionController) emit(s *activeSession) {
	s.mu.Lock()
	snap := s.snapshot.Clone()
	s.mu.Unlock()

	select {
	case s.out <- snap:
	default:
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- snap:
		default:
		}
	}
}

// finish stops every owned component exactly once and marks the session
// done. Late component callbacks after this point are discarded at post.
func (c *SessionController) finish(s *activeSession, reason string) {
	s.finishOnce.Do(func() {
		s.cancel()
		if s.publisher != nil {
			s.publisher.Stop()
		}
		if s.player != nil {
			s.player.Stop()
		}
		if s.channel != nil {
			s.channel.Disconnect()
		}
		if s.viewers != nil {
			s.viewers.Stop()
		}
		if c.metrics != nil {
			c.metrics.SessionEnded(s.snapshot.Role, time.Since(s.startedAt))
		}
		c.logger.Infow("live session closed",
			"session_id", s.identity.SessionID,
			"role", s.snapshot.Role,
			"reason", reason,
		)
		close(s.done)
	})
}

func (c *SessionController) clearSession(s *activeSession) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *SessionController) closeSink(sink ports.PlaybackSink) {
	if err := sink.Close(); err != nil {
		c.logger.Warnw("playback sink close failed", "error", err)
	}
}

func (s *activeSession) state() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.State
}

// appendMessageLocked appends under the session lock, evicting the oldest
// entries once the cap is reached.
func (s *activeSession) appendMessageLocked(ev domain.ChatEvent, limit int) {
	if limit > 0 && len(s.snapshot.Messages) >= limit {
		drop := len(s.snapshot.Messages) - limit + 1
		copy(s.snapshot.Messages, s.snapshot.Messages[drop:])
		s.snapshot.Messages = s.snapshot.Messages[:limit-1]
	}
	s.snapshot.Messages = append(s.snapshot.Messages, ev)
}

// foldPlaybackState maps the player lifecycle onto the headline state.
// A playback error is retryable, so it does not end the session: the
// snapshot reports Failed while RetryPlayback stays available. Only Ended
// is terminal for a viewer.
func foldPlaybackState(state domain.PlaybackState) (domain.ConnectionState, bool) {
	switch state {
	case domain.PlaybackPlaying:
		return domain.StateActive, false
	case domain.PlaybackEnded:
		return domain.StateEnded, true
	case domain.PlaybackError:
		return domain.StateFailed, false
	default:
		return domain.StateConnecting, false
	}
}

func failedStream(identity domain.SessionIdentity, role domain.SessionRole, err error) <-chan domain.SessionSnapshot {
	out := make(chan domain.SessionSnapshot, 1)
	out <- domain.SessionSnapshot{
		SessionID:     identity.SessionID,
		Role:          role,
		State:         domain.StateFailed,
		StatusMessage: err.Error(),
	}
	close(out)
	return out
}

func validatePublishIdentity(identity domain.SessionIdentity) error {
	if err := validation.ValidateSessionID(string(identity.SessionID)); err != nil {
		return err
	}
	if err := validation.ValidateParticipantID(string(identity.ParticipantID)); err != nil {
		return err
	}
	if identity.IngestToken == "" {
		return apperrors.NewInvalidInputError("ingest token is required for publishing")
	}
	return nil
}

func validateViewIdentity(identity domain.SessionIdentity) error {
	if err := validation.ValidateSessionID(string(identity.SessionID)); err != nil {
		return err
	}
	return validation.ValidateParticipantID(string(identity.ParticipantID))
}
