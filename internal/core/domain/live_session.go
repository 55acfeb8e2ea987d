package domain

import "time"

// LiveSession is the server-side view of a session as the simulator keeps it.
type LiveSession struct {
	ID          SessionID
	Title       string
	Owner       ParticipantID
	Status      SessionStatus
	ViewerCount int
	StartedAt   *time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time
}
