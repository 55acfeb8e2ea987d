package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/internal/core/services"
	apperrors "livecast/pkg/errors"
	rlog "livecast/pkg/logger"
	"livecast/pkg/validation"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	defaultGatherTimeout = 5 * time.Second
	whipTimeout          = 10 * time.Second
	maxAnswerBody        = 1 << 20

	iceDisconnectedTimeout = 5 * time.Second
	iceFailedTimeout       = 25 * time.Second
	iceKeepAliveInterval   = 4 * time.Second

	rtcpReadBuffer = 1500
)

// Publisher pushes a local capture to the ingest endpoint over a WHIP-style
// offer/answer exchange. It implements ports.MediaPublisher.
//
// Start is asynchronous: the returned error only covers argument problems
// and misuse, connection outcomes arrive through OnStateChange. There is no
// automatic retry at this layer: re-publishing needs a fresh capture grant,
// and that decision belongs to the caller.
type Publisher struct {
	source     ports.CaptureSource
	resolver   ports.SessionResolver
	ingestBase string
	quality    *services.LinkQualityService

	mu       sync.Mutex
	state    domain.ConnectionState
	detail   string
	onState  func(state domain.ConnectionState, detail string)
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	settings *domain.TrackSettings

	gatherTimeout time.Duration
	client        *http.Client
	logger        *zap.SugaredLogger
	metrics       ports.RuntimeMetrics
}

// NewPublisher creates a publisher that acquires media from source and
// resolves per-session connection material through resolver. ingestBase is
// the API base the ingest endpoint is derived from when resolution does not
// provide one; resolver and ingestBase may each be empty as long as the
// other yields an endpoint.
func NewPublisher(source ports.CaptureSource, resolver ports.SessionResolver, ingestBase string) *Publisher {
	return &Publisher{
		source:        source,
		resolver:      resolver,
		ingestBase:    strings.TrimSuffix(ingestBase, "/"),
		quality:       services.NewLinkQualityService(),
		state:         domain.StateIdle,
		gatherTimeout: defaultGatherTimeout,
		client:        &http.Client{Timeout: whipTimeout},
		logger:        rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (p *Publisher) SetLogger(logger *zap.SugaredLogger) {
	p.logger = logger
}

// SetHTTPClient replaces the default HTTP client.
func (p *Publisher) SetHTTPClient(client *http.Client) {
	p.client = client
}

// SetGatherTimeout bounds how long candidate gathering may run before the
// offer is submitted with whatever was gathered.
func (p *Publisher) SetGatherTimeout(d time.Duration) {
	if d > 0 {
		p.gatherTimeout = d
	}
}

// SetMetrics attaches a runtime metrics sink.
func (p *Publisher) SetMetrics(m ports.RuntimeMetrics) {
	p.metrics = m
}

// OnStateChange registers the state callback. Repeats of the current state
// and detail are suppressed.
func (p *Publisher) OnStateChange(fn func(state domain.ConnectionState, detail string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// State returns the current connection state.
func (p *Publisher) State() domain.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TrackSettings reports the capture settings while the publish is live,
// nil otherwise.
func (p *Publisher) TrackSettings() *domain.TrackSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings == nil {
		return nil
	}
	if p.state != domain.StateActive && p.state != domain.StateDegraded {
		return nil
	}
	clone := *p.settings
	return &clone
}

// Start begins publishing for the given identity. One Publisher serves one
// publish session; a second Start is misuse.
func (p *Publisher) Start(ctx context.Context, identity domain.SessionIdentity) error {
	if p.source == nil {
		return apperrors.NewInvalidInputError("capture source is required")
	}
	if err := validation.ValidateSessionID(string(identity.SessionID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if identity.IngestToken == "" {
		return apperrors.NewInvalidInputError("ingest token is required")
	}

	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx, identity)
	return nil
}

// Stop tears the publish down and releases capture and transport.
// Idempotent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()

	if started {
		p.emitState(domain.StateEnded, "publish stopped")
	}
	if cancel != nil {
		cancel()
	}
}

// run owns the session resources: whatever was acquired is released when it
// returns, on every exit path.
func (p *Publisher) run(ctx context.Context, identity domain.SessionIdentity) {
	p.emitState(domain.StateConnecting, "resolving ice servers")
	iceServers, endpoint := p.resolveIngest(ctx, identity.SessionID)

	p.emitState(domain.StateConnecting, "acquiring capture device")
	capture, err := p.source.Acquire(ctx)
	if err != nil {
		p.emitState(domain.StateFailed, fmt.Sprintf("capture unavailable: %v", err))
		return
	}
	defer func() {
		if cerr := capture.Close(); cerr != nil {
			p.logger.Warnw("closing capture", "error", cerr)
		}
	}()

	settings := capture.Settings()
	p.mu.Lock()
	p.settings = &settings
	p.mu.Unlock()

	if endpoint == "" {
		p.emitState(domain.StateFailed, "session has no ingest endpoint")
		return
	}

	p.emitState(domain.StateConnecting, "negotiating")
	negotiateStart := time.Now()
	pc, err := p.negotiate(ctx, capture, iceServers, endpoint, identity.IngestToken)
	if err != nil {
		p.emitState(domain.StateFailed, err.Error())
		return
	}
	defer func() {
		if cerr := pc.Close(); cerr != nil {
			p.logger.Warnw("closing peer connection", "error", cerr)
		}
	}()

	if p.metrics != nil {
		p.metrics.NegotiationDuration(time.Since(negotiateStart))
	}
	p.logger.Infow("whip publish negotiated",
		"session_id", identity.SessionID, "endpoint", endpoint)

	<-ctx.Done()
}

// negotiate runs the offer/answer exchange and returns the connected-side
// peer connection. On error the transport is already closed.
func (p *Publisher) negotiate(ctx context.Context, capture ports.CaptureHandle, iceServers []webrtc.ICEServer, endpoint string, token domain.IngestToken) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := capture.PopulateEngine(mediaEngine); err != nil {
		return nil, fmt.Errorf("codec registration failed: %v", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("interceptor registration failed: %v", err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("peer connection failed: %v", err)
	}

	pc.OnConnectionStateChange(p.handleTransportState)

	for _, track := range capture.Tracks() {
		transceiver, terr := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if terr != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("adding %s track failed: %v", track.Kind(), terr)
		}
		go p.readLinkReports(ctx, transceiver.Sender())
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("offer failed: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("local description failed: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(p.gatherTimeout):
		p.logger.Debugw("candidate gathering timed out, submitting partial offer")
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	answer, err := p.exchangeOffer(ctx, endpoint, token, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("remote description failed: %v", err)
	}
	return pc, nil
}

// resolveIngest fetches the session's connection material. Resolution
// failures fall back to the default ICE list and the derived ingest
// endpoint rather than aborting the start.
func (p *Publisher) resolveIngest(ctx context.Context, id domain.SessionID) ([]webrtc.ICEServer, string) {
	endpoint := ""
	if p.ingestBase != "" {
		endpoint = fmt.Sprintf("%s/api/v1/live/%s/whip", p.ingestBase, id)
	}
	servers := domain.DefaultICEServers()

	if p.resolver != nil {
		info, err := p.resolver.Resolve(ctx, id)
		switch {
		case err != nil:
			p.logger.Warnw("session resolve failed, using defaults",
				"session_id", id, "error", err)
		case info != nil:
			if info.WHIPEndpoint != "" {
				endpoint = info.WHIPEndpoint
			}
			if len(info.ICEServers) > 0 {
				servers = info.ICEServers
			}
		}
	}
	return toICEConfig(servers), endpoint
}

// exchangeOffer POSTs the local SDP to the ingest endpoint and returns the
// remote answer SDP. The ingest token travels in the URL query.
func (p *Publisher) exchangeOffer(ctx context.Context, endpoint string, token domain.IngestToken, offerSDP string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("bad ingest endpoint: %v", err)
	}
	q := u.Query()
	q.Set("token", string(token))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("building ingest request: %v", err)
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBody))
	if err != nil {
		return "", fmt.Errorf("reading ingest answer: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		}
		return "", fmt.Errorf("ingest rejected the offer: %s", detail)
	}
	if len(body) == 0 {
		return "", errors.New("ingest returned an empty answer")
	}
	return string(body), nil
}

func (p *Publisher) handleTransportState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		p.emitState(domain.StateActive, "publishing")
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		p.emitState(domain.StateFailed, fmt.Sprintf("transport %s", state))
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

// readLinkReports drains RTCP from one sender and folds receiver reports
// into the link-quality signal.
func (p *Publisher) readLinkReports(ctx context.Context, sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	buf := make([]byte, rtcpReadBuffer)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			p.logger.Debugw("undecodable rtcp packet", "error", err)
			continue
		}
		for _, pkt := range packets {
			report, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rr := range report.Reports {
				p.observeReception(rr)
			}
		}
	}
}

// observeReception surfaces sustained link-quality changes as transitions
// between Active and Degraded. Receiver jitter arrives in media clock
// units; reports are folded at the video clock rate.
func (p *Publisher) observeReception(rr rtcp.ReceptionReport) {
	metrics := domain.LinkMetrics{
		Timestamp:    time.Now(),
		FractionLost: float64(rr.FractionLost) / 256,
		TotalLost:    int64(rr.TotalLost),
		Jitter:       time.Duration(float64(rr.Jitter) / videoClockRate * float64(time.Second)),
		RoundTrip:    roundTripFromReport(rr),
	}
	quality := p.quality.Observe(metrics)

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch {
	case quality == domain.LinkDegraded && state == domain.StateActive:
		p.emitState(domain.StateDegraded,
			fmt.Sprintf("ingest link degraded: %.0f%% loss", metrics.FractionLost*100))
	case quality == domain.LinkGood && state == domain.StateDegraded:
		p.emitState(domain.StateActive, "ingest link recovered")
	}
}

// emitState records a transition and fires the callback outside the lock.
// Terminal states latch: nothing is emitted after Ended or Failed, so a
// deliberate stop does not surface the transport's closing signals.
func (p *Publisher) emitState(state domain.ConnectionState, detail string) {
	p.mu.Lock()
	if p.state.Terminal() || (p.state == state && p.detail == detail) {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.detail = detail
	fn := p.onState
	p.mu.Unlock()

	p.logger.Debugw("publisher state", "state", state, "detail", detail)
	if fn != nil {
		fn(state, detail)
	}
}

// roundTripFromReport recovers the RTT from the LSR/DLSR fields, both in
// 1/65536 second units relative to our last sender report. Implausible
// values from clock wrap are dropped.
func roundTripFromReport(rr rtcp.ReceptionReport) time.Duration {
	if rr.LastSenderReport == 0 {
		return 0
	}
	units := ntpTime32(time.Now()) - rr.LastSenderReport - rr.Delay
	rtt := time.Duration(units) * time.Second / 65536
	if rtt > 10*time.Second {
		return 0
	}
	return rtt
}

// ntpTime32 is the middle 32 bits of the 64-bit NTP timestamp for t.
func ntpTime32(t time.Time) uint32 {
	secs := uint64(t.Unix()) + 2208988800
	frac := (uint64(t.Nanosecond()) << 32) / 1000000000
	return uint32(secs<<16 | frac>>16)
}

func toICEConfig(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
