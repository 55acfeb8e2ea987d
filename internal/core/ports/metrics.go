package ports

import (
	"time"

	"livecast/internal/core/domain"
)

// Label values shared by RuntimeMetrics callers.
const (
	ComponentPublisher = "publisher"
	ComponentPlayback  = "playback"
	ComponentChat      = "chat"

	DirectionIn  = "in"
	DirectionOut = "out"
)

// RuntimeMetrics receives measurement points from the session runtime.
// Implementations must be safe for concurrent use. Every component treats
// its metrics sink as optional and guards against nil.
type RuntimeMetrics interface {
	SessionStarted(role domain.SessionRole)
	SessionEnded(role domain.SessionRole, lifetime time.Duration)
	ComponentState(component, state string)
	ChatMessage(direction string)
	ChatReconnect()
	DedupDrop()
	ManifestReload()
	ViewerCount(count int)
	NegotiationDuration(d time.Duration)
}
