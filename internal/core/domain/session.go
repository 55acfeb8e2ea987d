package domain

import (
	"time"
)

type SessionID string
type ParticipantID string
type IngestToken string

// SessionIdentity identifies one participant in one live session.
// Values are supplied by the surrounding application and stay immutable
// for the session's lifetime. IngestToken is only required for publishing.
type SessionIdentity struct {
	SessionID     SessionID
	ParticipantID ParticipantID
	DisplayName   string
	IngestToken   IngestToken
}

type SessionRole string

const (
	RolePublisher SessionRole = "publisher"
	RoleViewer    SessionRole = "viewer"
)

// ConnectionState is the lifecycle of a media component. Degraded is a
// transient state entered on a recoverable problem while previously Active.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateActive     ConnectionState = "active"
	StateDegraded   ConnectionState = "degraded"
	StateEnded      ConnectionState = "ended"
	StateFailed     ConnectionState = "failed"
)

func (s ConnectionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// PlaybackState is the consumer-side lifecycle. Ended is terminal and means
// the broadcaster stopped; Error is recoverable and offers a manual retry.
type PlaybackState string

const (
	PlaybackLoading PlaybackState = "loading"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackEnded   PlaybackState = "ended"
	PlaybackError   PlaybackState = "error"
)

// ChannelState is the chat channel lifecycle. Abandoned means the reconnect
// budget is exhausted and no further automatic attempt happens.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelAbandoned    ChannelState = "abandoned"
)

// TrackSettings reports what the capture device actually granted, which may
// differ from the requested constraints.
type TrackSettings struct {
	Width      int
	Height     int
	FrameRate  float64
	VideoCodec string
	AudioCodec string
}

// SessionStatus is the server-side session state as reported by the info
// endpoint.
type SessionStatus string

const (
	StatusIdle  SessionStatus = "IDLE"
	StatusLive  SessionStatus = "LIVE"
	StatusEnded SessionStatus = "ENDED"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusLive, StatusEnded:
		return true
	default:
		return false
	}
}

func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	switch s {
	case StatusIdle:
		return target == StatusLive || target == StatusEnded
	case StatusLive:
		return target == StatusEnded
	default:
		return false
	}
}

// ICEServer describes one STUN/TURN server in wire shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SessionInfo is the connection material resolved per session: ingest and
// playback endpoints plus the ICE server list.
type SessionInfo struct {
	ID           SessionID     `json:"id"`
	Status       SessionStatus `json:"status"`
	WHIPEndpoint string        `json:"whip_endpoint,omitempty"`
	WHEPEndpoint string        `json:"whep_endpoint,omitempty"`
	HLSURL       string        `json:"hls_url,omitempty"`
	ICEServers   []ICEServer   `json:"ice_servers"`
	ResolvedAt   time.Time     `json:"-"`
}

// DefaultICEServers is the fixed fallback used when the info endpoint is
// unreachable or returns an empty list.
func DefaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}
