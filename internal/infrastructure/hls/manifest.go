package hls

import (
	"fmt"
	"net/url"
	"time"

	"github.com/grafov/m3u8"
)

const (
	// liveEdgeOffset is how many segments back from the live edge playback
	// starts on the first playlist parse. Starting at the oldest segment of
	// a sliding window would begin playback one full window behind real time.
	liveEdgeOffset = 3

	minReloadInterval = 500 * time.Millisecond
)

// playlistSegment is one entry of a parsed media playlist before its data
// has been fetched.
type playlistSegment struct {
	sequence uint64
	uri      string
	duration float64
}

// selectVariant picks the highest-bandwidth playable variant of a master
// playlist. Ladder construction is out of scope, selection only.
func selectVariant(master *m3u8.MasterPlaylist) (*m3u8.Variant, error) {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("master playlist has no playable variant")
	}
	return best, nil
}

// resolveReference resolves a playlist or segment URI against the URL of the
// playlist that referenced it.
func resolveReference(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	return base.ResolveReference(r).String(), nil
}

// liveEdgeStart picks the first media sequence to play. Closed playlists
// play from the beginning; live windows start liveEdgeOffset segments back
// from the edge.
func liveEdgeStart(media *m3u8.MediaPlaylist) uint64 {
	if media.Closed {
		return media.SeqNo
	}
	count := uint64(segmentCount(media))
	if count > liveEdgeOffset {
		return media.SeqNo + count - liveEdgeOffset
	}
	return media.SeqNo
}

// segmentsAfter lists the playlist entries with media sequence >= from, in
// playlist order. Sequence numbers are positional from the playlist's
// media-sequence header.
func segmentsAfter(media *m3u8.MediaPlaylist, from uint64) []playlistSegment {
	var out []playlistSegment
	seq := media.SeqNo
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seq >= from {
			out = append(out, playlistSegment{
				sequence: seq,
				uri:      seg.URI,
				duration: seg.Duration,
			})
		}
		seq++
	}
	return out
}

func segmentCount(media *m3u8.MediaPlaylist) int {
	n := 0
	for _, seg := range media.Segments {
		if seg != nil {
			n++
		}
	}
	return n
}

// reloadInterval is the wait between live playlist reloads, half the target
// duration with a floor so a tiny target duration cannot turn the reload
// loop into a busy poll.
func reloadInterval(media *m3u8.MediaPlaylist) time.Duration {
	if media.TargetDuration <= 0 {
		return 2 * time.Second
	}
	d := time.Duration(media.TargetDuration*float64(time.Second)) / 2
	if d < minReloadInterval {
		d = minReloadInterval
	}
	return d
}
