package domain

// MediaSegment is one fetched piece of an adaptive stream, handed to the
// playback sink in playlist order.
type MediaSegment struct {
	Sequence uint64
	URI      string
	Duration float64
	Data     []byte
}
