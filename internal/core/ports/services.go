package ports

import (
	"context"

	"livecast/internal/core/domain"
)

// MediaPublisher turns a local capture into a published stream. Start is
// asynchronous: the returned error only covers argument problems and misuse,
// connection outcomes arrive through the state callback.
type MediaPublisher interface {
	Start(ctx context.Context, identity domain.SessionIdentity) error
	Stop()
	TrackSettings() *domain.TrackSettings
	OnStateChange(fn func(state domain.ConnectionState, detail string))
}

// MediaPlayer renders a remote adaptive stream into a playback sink,
// tolerating the publisher not being live yet.
type MediaPlayer interface {
	Start(ctx context.Context, manifestURL string, sink PlaybackSink) error
	Stop()
	Retry()
	OnStateChange(fn func(state domain.PlaybackState, detail string))
}

// ChatChannel is the bidirectional event channel scoped to one session.
// Send is best-effort: it reports false without queueing when the channel
// is not connected.
type ChatChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(body string) bool
	State() domain.ChannelState
	OnEvent(fn func(domain.ChatEvent))
	OnViewerCount(fn func(count int))
	OnStateChange(fn func(state domain.ChannelState, detail string))
}

// SessionResolver fetches the per-session connection material. Callers fall
// back to domain.DefaultICEServers when resolution fails.
type SessionResolver interface {
	Resolve(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error)
}

// ViewerCountSource is the polled side of the viewer count.
type ViewerCountSource interface {
	ViewerCount(ctx context.Context, id domain.SessionID) (int, error)
}

// SessionService is the simulator's session lifecycle surface.
type SessionService interface {
	CreateSession(ctx context.Context, title string, owner domain.ParticipantID) (*domain.LiveSession, domain.IngestToken, error)
	GetSession(ctx context.Context, id domain.SessionID) (*domain.LiveSession, error)
	ListSessions(ctx context.Context) ([]*domain.LiveSession, error)
	MarkLive(ctx context.Context, id domain.SessionID) error
	EndSession(ctx context.Context, id domain.SessionID) error
	SessionInfo(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error)
}
