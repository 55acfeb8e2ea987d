package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	rlog "livecast/pkg/logger"
	"livecast/pkg/retry"
	"livecast/pkg/validation"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"
)

const (
	httpTimeout           = 10 * time.Second
	defaultLoadingTimeout = 15 * time.Second
	defaultEndedThreshold = 3
)

// Error classes decide the recovery rule: network failures reload the
// playlist, media failures reset the sink in place, anything else goes
// straight to the error state.
const (
	classNetwork = "network"
	classMedia   = "media"
	classTimeout = "timeout"
	classNative  = "native"
)

type fatalError struct {
	class string
	cause error
}

func (e *fatalError) Error() string {
	return fmt.Sprintf("%s playback failure: %v", e.class, e.cause)
}

func (e *fatalError) Unwrap() error {
	return e.cause
}

// Player consumes an adaptive stream and writes it to a playback sink.
// It implements ports.MediaPlayer.
//
// Start is asynchronous: the returned error only covers argument problems
// and misuse. Everything else arrives through OnStateChange. Once playback
// has been live, a run of consecutive fatal errors is read as the
// broadcaster stopping and ends the session instead of surfacing an error.
type Player struct {
	reload retry.Config

	mu           sync.Mutex
	state        domain.PlaybackState
	onState      func(state domain.PlaybackState, detail string)
	started      bool
	stopped      bool
	cancel       context.CancelFunc
	manifestURL  string
	sink         ports.PlaybackSink
	everLive     bool
	consecFatals int

	loadingTimeout time.Duration
	endedThreshold int

	retryCh chan struct{}
	client  *http.Client
	logger  *zap.SugaredLogger
	metrics ports.RuntimeMetrics
}

// NewPlayer creates a player whose manifest reload budget follows the given
// retry schedule. A disabled schedule means a single attempt per cycle.
func NewPlayer(reload retry.Config) *Player {
	if reload.MaxAttempts <= 0 {
		reload = retry.DefaultConfig()
	}
	if !reload.Enabled {
		reload.MaxAttempts = 1
	}
	return &Player{
		reload:         reload,
		state:          domain.PlaybackLoading,
		loadingTimeout: defaultLoadingTimeout,
		endedThreshold: defaultEndedThreshold,
		retryCh:        make(chan struct{}, 1),
		client:         &http.Client{Timeout: httpTimeout},
		logger:         rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (p *Player) SetLogger(logger *zap.SugaredLogger) {
	p.logger = logger
}

// SetHTTPClient replaces the default HTTP client.
func (p *Player) SetHTTPClient(client *http.Client) {
	p.client = client
}

// SetMetrics attaches a runtime metrics sink.
func (p *Player) SetMetrics(m ports.RuntimeMetrics) {
	p.metrics = m
}

// SetLoadingTimeout bounds how long one loading cycle may take before the
// first successful manifest parse.
func (p *Player) SetLoadingTimeout(d time.Duration) {
	if d > 0 {
		p.loadingTimeout = d
	}
}

// SetEndedThreshold sets how many consecutive fatal errors after live
// playback are read as the broadcaster stopping.
func (p *Player) SetEndedThreshold(n int) {
	if n > 0 {
		p.endedThreshold = n
	}
}

// OnStateChange registers the state callback. Duplicate states are
// suppressed.
func (p *Player) OnStateChange(fn func(state domain.PlaybackState, detail string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// State returns the current playback state.
func (p *Player) State() domain.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins playback of the manifest into the sink. One Player serves
// one playback session; a second Start is misuse.
func (p *Player) Start(ctx context.Context, manifestURL string, sink ports.PlaybackSink) error {
	if sink == nil {
		return apperrors.NewInvalidInputError("playback sink is required")
	}
	if err := validation.ValidateManifestURL(manifestURL); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	p.started = true
	p.manifestURL = manifestURL
	p.sink = sink
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.emitState(domain.PlaybackLoading, "loading manifest")
	go p.run(runCtx)
	return nil
}

// Stop tears playback down. Idempotent; the sink is closed once the
// playback loop has unwound.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Retry restarts loading after a recoverable error. Valid only from the
// error state; calls in any other state are ignored.
func (p *Player) Retry() {
	p.mu.Lock()
	if p.state != domain.PlaybackError || p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.setState(domain.PlaybackLoading, "manual retry")
	select {
	case p.retryCh <- struct{}{}:
	default:
	}
}

func (p *Player) run(ctx context.Context) {
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warnw("closing playback sink", "error", err)
		}
	}()

	for {
		err := p.playOnce(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}

		switch p.handleFatal(err) {
		case outcomeResume:
			select {
			case <-time.After(p.reload.NextDelay(1)):
			case <-ctx.Done():
				return
			}

		case outcomeAwaitRetry:
			select {
			case <-p.retryCh:
			case <-ctx.Done():
				return
			}

		case outcomeTerminal:
			return
		}
	}
}

// playOnce runs one full playback cycle: resolve the media playlist, then
// stream its segments until the playlist closes or a fatal error occurs.
// A nil return means the cycle reached a terminal outcome (ended or
// canceled) and the loop must not continue.
func (p *Player) playOnce(ctx context.Context) error {
	if p.sink.SupportsNative() {
		return p.playNative(ctx)
	}

	mediaURL, media, err := p.loadMediaPlaylist(ctx)
	if err != nil {
		return err
	}
	return p.streamSegments(ctx, mediaURL, media)
}

// playNative hands the manifest to a sink with its own adaptive client.
// PlayNative returns once playback is attached; the player then just holds
// the session open until it is stopped.
func (p *Player) playNative(ctx context.Context) error {
	if err := p.sink.PlayNative(ctx, p.manifestURL); err != nil {
		return &fatalError{class: classNative, cause: err}
	}
	p.markPlaying("native playback attached")
	<-ctx.Done()
	return nil
}

// loadMediaPlaylist resolves the manifest URL down to a media playlist,
// following a master playlist through variant selection when needed. Fetch
// failures are retried within the reload budget and the loading timeout,
// whichever runs out first.
func (p *Player) loadMediaPlaylist(ctx context.Context) (string, *m3u8.MediaPlaylist, error) {
	deadline := time.Now().Add(p.loadingTimeout)

	var lastErr error
	for attempt := 1; ; attempt++ {
		mediaURL, media, err := p.resolvePlaylist(ctx)
		if err == nil {
			return mediaURL, media, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		lastErr = err

		if attempt >= p.reload.MaxAttempts {
			return "", nil, &fatalError{class: classNetwork, cause: lastErr}
		}
		if time.Now().After(deadline) {
			return "", nil, &fatalError{class: classTimeout, cause: fmt.Errorf("no manifest within %s: %w", p.loadingTimeout, lastErr)}
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(p.reload.NextDelay(attempt)):
		}
	}
}

func (p *Player) resolvePlaylist(ctx context.Context) (string, *m3u8.MediaPlaylist, error) {
	playlist, listType, err := p.fetchPlaylist(ctx, p.manifestURL)
	if err != nil {
		return "", nil, err
	}

	switch listType {
	case m3u8.MEDIA:
		return p.manifestURL, playlist.(*m3u8.MediaPlaylist), nil

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		variant, err := selectVariant(master)
		if err != nil {
			return "", nil, err
		}
		mediaURL, err := resolveReference(p.manifestURL, variant.URI)
		if err != nil {
			return "", nil, err
		}
		p.logger.Debugw("selected playlist variant",
			"bandwidth", variant.Bandwidth,
			"resolution", variant.Resolution,
			"uri", mediaURL)
		media, err := p.fetchMediaPlaylist(ctx, mediaURL)
		if err != nil {
			return "", nil, err
		}
		return mediaURL, media, nil

	default:
		return "", nil, fmt.Errorf("unrecognized playlist type %d", listType)
	}
}

// streamSegments drives the live fetch loop: drain new segments, hand them
// to the sink, reload on the target-duration cadence. Sink failures get one
// in-place reset before they are fatal. Segment fetches and playlist
// reloads each carry their own consecutive-failure counter against the
// reload budget, so a string of good reloads cannot mask a segment that
// never arrives.
func (p *Player) streamSegments(ctx context.Context, mediaURL string, media *m3u8.MediaPlaylist) error {
	nextSeq := liveEdgeStart(media)
	segFailures := 0
	reloadFailures := 0
	recovered := false

	for {
		if media.SeqNo > nextSeq {
			p.logger.Warnw("playback fell behind the live window, jumping forward",
				"from", nextSeq,
				"to", media.SeqNo)
			nextSeq = media.SeqNo
		}

		var fetchErr error
		for _, seg := range segmentsAfter(media, nextSeq) {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			segURL, err := resolveReference(mediaURL, seg.uri)
			if err != nil {
				fetchErr = err
				break
			}
			data, err := p.fetchSegment(ctx, segURL)
			if err != nil {
				fetchErr = err
				break
			}

			segment := domain.MediaSegment{
				Sequence: seg.sequence,
				URI:      seg.uri,
				Duration: seg.duration,
				Data:     data,
			}
			if err := p.writeWithRecovery(ctx, segment, &recovered); err != nil {
				return err
			}
			p.markPlaying("playback started")
			segFailures = 0
			nextSeq = seg.sequence + 1
		}

		if fetchErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			segFailures++
			if segFailures >= p.reload.MaxAttempts {
				return &fatalError{class: classNetwork, cause: fetchErr}
			}
		} else if media.Closed {
			p.setState(domain.PlaybackEnded, "stream ended")
			return nil
		}

		failures := segFailures
		if reloadFailures > failures {
			failures = reloadFailures
		}
		wait := reloadInterval(media)
		if failures > 0 {
			wait = p.reload.NextDelay(failures)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		reloaded, err := p.fetchMediaPlaylist(ctx, mediaURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reloadFailures++
			if reloadFailures >= p.reload.MaxAttempts {
				return &fatalError{class: classNetwork, cause: err}
			}
			continue
		}
		reloadFailures = 0
		media = reloaded
		if p.metrics != nil {
			p.metrics.ManifestReload()
		}
	}
}

// writeWithRecovery writes one segment, resetting the sink in place on the
// first failure. A failure on the retried write, or with a reset already
// spent since the last success, is a fatal media error.
func (p *Player) writeWithRecovery(ctx context.Context, segment domain.MediaSegment, recovered *bool) error {
	err := p.sink.WriteSegment(ctx, segment)
	if err == nil {
		*recovered = false
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if *recovered {
		return &fatalError{class: classMedia, cause: err}
	}

	p.logger.Warnw("sink write failed, resetting decode pipeline",
		"sequence", segment.Sequence,
		"error", err)
	if resetErr := p.sink.Reset(); resetErr != nil {
		return &fatalError{class: classMedia, cause: resetErr}
	}
	*recovered = true

	if err := p.sink.WriteSegment(ctx, segment); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &fatalError{class: classMedia, cause: err}
	}
	return nil
}

type fatalOutcome int

const (
	outcomeResume fatalOutcome = iota
	outcomeAwaitRetry
	outcomeTerminal
)

// handleFatal folds one fatal error into the state machine and tells the
// loop what to do next: resume loading on its own, park until Retry, or
// stop for good.
func (p *Player) handleFatal(err error) fatalOutcome {
	p.mu.Lock()
	p.consecFatals++
	fatals := p.consecFatals
	everLive := p.everLive
	threshold := p.endedThreshold
	p.mu.Unlock()

	if everLive && fatals >= threshold {
		p.logger.Infow("consecutive fatal errors after live playback, treating as stream end",
			"failures", fatals,
			"error", err)
		p.setState(domain.PlaybackEnded, "stream appears to have ended")
		return outcomeTerminal
	}
	if everLive {
		p.logger.Warnw("recovering live playback",
			"failures", fatals,
			"error", err)
		p.setState(domain.PlaybackLoading, "recovering playback")
		return outcomeResume
	}

	p.logger.Warnw("playback failed before going live", "error", err)
	p.setState(domain.PlaybackError, err.Error())
	return outcomeAwaitRetry
}

func (p *Player) markPlaying(detail string) {
	p.mu.Lock()
	p.everLive = true
	p.consecFatals = 0
	p.mu.Unlock()
	p.setState(domain.PlaybackPlaying, detail)
}

// setState transitions with duplicate suppression; the callback runs
// outside the lock.
func (p *Player) setState(state domain.PlaybackState, detail string) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	fn := p.onState
	p.mu.Unlock()

	p.logger.Debugw("playback state changed", "state", state, "detail", detail)
	if fn != nil {
		fn(state, detail)
	}
}

// emitState is setState without duplicate suppression, used for the initial
// Loading notification.
func (p *Player) emitState(state domain.PlaybackState, detail string) {
	p.mu.Lock()
	p.state = state
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state, detail)
	}
}

func (p *Player) fetchPlaylist(ctx context.Context, url string) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building playlist request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("playlist fetch returned HTTP %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding playlist: %w", err)
	}
	return playlist, listType, nil
}

func (p *Player) fetchMediaPlaylist(ctx context.Context, url string) (*m3u8.MediaPlaylist, error) {
	playlist, listType, err := p.fetchPlaylist(ctx, url)
	if err != nil {
		return nil, err
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist at %s", url)
	}
	return media, nil
}

func (p *Player) fetchSegment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building segment request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment fetch returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading segment body: %w", err)
	}
	return data, nil
}
