package domain

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventChat         EventKind = "chat"
	EventViewerUpdate EventKind = "viewer_update"
	EventJoined       EventKind = "joined"
	EventLeft         EventKind = "left"
	EventError        EventKind = "error"
)

// ChatEvent is one inbound event from the chat channel. OccurredAt is the
// server timestamp when the message carries one, otherwise the client's
// receipt time.
type ChatEvent struct {
	Kind       EventKind
	SenderID   ParticipantID
	SenderName string
	Body       string
	Count      int
	OccurredAt time.Time
}

const (
	// DedupBodyPrefix is how much of the body participates in the dedup key.
	DedupBodyPrefix = 64

	// DedupTimeBucket groups receipt times so a re-delivered message lands
	// in the same bucket as the original.
	DedupTimeBucket = 2 * time.Second
)

// DedupKey collapses a chat event to (sender, truncated body, coarse time
// bucket). It exists only to recognize re-delivered duplicates and is never
// used as a message identifier of record.
func (e ChatEvent) DedupKey() string {
	body := e.Body
	if len(body) > DedupBodyPrefix {
		body = body[:DedupBodyPrefix]
	}
	bucket := e.OccurredAt.Truncate(DedupTimeBucket).Unix()
	return fmt.Sprintf("%s|%s|%d", e.SenderID, body, bucket)
}
