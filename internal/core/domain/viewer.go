package domain

import "time"

type SampleSource string

const (
	SourcePush SampleSource = "push"
	SourcePoll SampleSource = "poll"
)

// ViewerCountSample is one observation of the viewer count from either the
// poll endpoint or a push over the chat channel. Value is never negative.
type ViewerCountSample struct {
	Value      int
	Source     SampleSource
	ObservedAt time.Time
}
