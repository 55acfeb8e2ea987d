package domain

// SessionSnapshot is the externally visible aggregate of one live session.
// State mirrors the media component for the session's role; chat and viewer
// subsystems only populate StatusMessage, ViewerCount and Messages.
type SessionSnapshot struct {
	SessionID     SessionID
	Role          SessionRole
	State         ConnectionState
	StatusMessage string
	ViewerCount   int
	Messages      []ChatEvent
}

// Clone returns a copy safe to hand to subscribers while the original keeps
// mutating. The message slice is copied; events themselves are value types.
func (s SessionSnapshot) Clone() SessionSnapshot {
	out := s
	if len(s.Messages) > 0 {
		out.Messages = make([]ChatEvent, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}
