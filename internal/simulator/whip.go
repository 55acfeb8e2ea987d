package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	rlog "livecast/pkg/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// answerGatherTimeout caps how long the answerer waits for ICE candidates
// before replying with what it has.
const answerGatherTimeout = 5 * time.Second

// IngestAnswerer terminates WHIP offers with a receive-only peer
// connection. Inbound media is drained and dropped; the point is to give
// publishers a real negotiation partner, not to store packets.
type IngestAnswerer struct {
	iceServers []webrtc.ICEServer
	logger     *zap.SugaredLogger

	onPublisherLost func(domain.SessionID)

	mu    sync.Mutex
	conns map[domain.SessionID]*webrtc.PeerConnection
}

func NewIngestAnswerer(iceServers []webrtc.ICEServer) *IngestAnswerer {
	return &IngestAnswerer{
		iceServers: iceServers,
		conns:      make(map[domain.SessionID]*webrtc.PeerConnection),
		logger:     rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (a *IngestAnswerer) SetLogger(logger *zap.SugaredLogger) {
	a.logger = logger
}

// SetOnPublisherLost installs a callback fired when a session's ingest
// transport dies on its own. Teardowns through Close or a replacement
// offer do not fire it. Must be set before the first Answer.
func (a *IngestAnswerer) SetOnPublisherLost(fn func(domain.SessionID)) {
	a.onPublisherLost = fn
}

// Answer runs the server side of the offer/answer exchange and returns the
// local SDP with gathered candidates. A second publisher for the same
// session replaces the first.
func (a *IngestAnswerer) Answer(ctx context.Context, session domain.SessionID, offerSDP string) (string, error) {
	if err := validateOffer(offerSDP); err != nil {
		return "", err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return "", fmt.Errorf("peer connection failed: %v", err)
	}

	pc.OnTrack(a.drainTrack(session))
	pc.OnConnectionStateChange(a.watchTransport(session, pc))

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("offer rejected: %v", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("answer failed: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("local description failed: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(answerGatherTimeout):
		a.logger.Debugw("candidate gathering timed out, answering with partial candidates",
			"session_id", session)
	case <-ctx.Done():
		_ = pc.Close()
		return "", ctx.Err()
	}

	a.adopt(session, pc)
	return pc.LocalDescription().SDP, nil
}

// Close tears down the session's ingest transport if one is up.
func (a *IngestAnswerer) Close(session domain.SessionID) {
	a.mu.Lock()
	pc := a.conns[session]
	delete(a.conns, session)
	a.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
}

// CloseAll tears down every ingest transport, used at shutdown.
func (a *IngestAnswerer) CloseAll() {
	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[domain.SessionID]*webrtc.PeerConnection)
	a.mu.Unlock()

	for _, pc := range conns {
		_ = pc.Close()
	}
}

// adopt records the session's transport, replacing and closing any
// previous one. The replacement is mapped first so the old transport's
// state callback sees it is no longer current.
func (a *IngestAnswerer) adopt(session domain.SessionID, pc *webrtc.PeerConnection) {
	a.mu.Lock()
	old := a.conns[session]
	a.conns[session] = pc
	a.mu.Unlock()

	if old != nil {
		a.logger.Infow("previous publisher replaced", "session_id", session)
		_ = old.Close()
	}
}

func (a *IngestAnswerer) watchTransport(session domain.SessionID, pc *webrtc.PeerConnection) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		a.logger.Infow("ingest transport state changed",
			"session_id", session,
			"state", state.String())

		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			a.mu.Lock()
			current := a.conns[session] == pc
			if current {
				delete(a.conns, session)
			}
			a.mu.Unlock()

			if current && a.onPublisherLost != nil {
				a.onPublisherLost(session)
			}
		}
	}
}

// drainTrack consumes inbound RTP so the transport keeps flowing.
func (a *IngestAnswerer) drainTrack(session domain.SessionID) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		a.logger.Infow("publisher track arrived",
			"session_id", session,
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType)

		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}
}

// validateOffer applies a structural check before the transport sees the
// description: the core SDP lines must be present.
func validateOffer(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
