package hls

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/grafov/m3u8"
)

func decodeMediaPlaylist(t *testing.T, text string) *m3u8.MediaPlaylist {
	t.Helper()
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		t.Fatalf("decoding media playlist: %v", err)
	}
	if listType != m3u8.MEDIA {
		t.Fatalf("playlist type = %d, want media", listType)
	}
	return playlist.(*m3u8.MediaPlaylist)
}

func decodeMasterPlaylist(t *testing.T, text string) *m3u8.MasterPlaylist {
	t.Helper()
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		t.Fatalf("decoding master playlist: %v", err)
	}
	if listType != m3u8.MASTER {
		t.Fatalf("playlist type = %d, want master", listType)
	}
	return playlist.(*m3u8.MasterPlaylist)
}

func TestSelectVariant_PicksHighestBandwidth(t *testing.T) {
	master := decodeMasterPlaylist(t, `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360
media-low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
media-high.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=854x480
media-mid.m3u8
`)

	variant, err := selectVariant(master)
	if err != nil {
		t.Fatalf("selectVariant() error = %v", err)
	}
	if variant.URI != "media-high.m3u8" {
		t.Errorf("selected %q, want media-high.m3u8", variant.URI)
	}
}

func TestSelectVariant_NoVariants(t *testing.T) {
	master := decodeMasterPlaylist(t, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=1\nx.m3u8\n")
	master.Variants = nil

	if _, err := selectVariant(master); err == nil {
		t.Error("selectVariant() expected error for empty variant list")
	}
}

func buildMediaText(seqStart, count int, closed bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:1\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", seqStart)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:1.000,\nseg-%d.ts\n", seqStart+i)
	}
	if closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func TestLiveEdgeStart(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   uint64
	}{
		{"live window wider than edge offset", buildMediaText(10, 5, false), 12},
		{"live window narrower than edge offset", buildMediaText(10, 2, false), 10},
		{"closed playlist plays from the beginning", buildMediaText(10, 5, true), 10},
		{"sequence zero", buildMediaText(0, 3, false), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := decodeMediaPlaylist(t, tt.text)
			if got := liveEdgeStart(media); got != tt.want {
				t.Errorf("liveEdgeStart() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSegmentsAfter(t *testing.T) {
	media := decodeMediaPlaylist(t, buildMediaText(10, 5, false))

	segs := segmentsAfter(media, 12)
	if len(segs) != 3 {
		t.Fatalf("segmentsAfter() returned %d segments, want 3", len(segs))
	}
	for i, seg := range segs {
		wantSeq := uint64(12 + i)
		if seg.sequence != wantSeq {
			t.Errorf("segment %d sequence = %d, want %d", i, seg.sequence, wantSeq)
		}
		wantURI := fmt.Sprintf("seg-%d.ts", wantSeq)
		if seg.uri != wantURI {
			t.Errorf("segment %d uri = %q, want %q", i, seg.uri, wantURI)
		}
	}

	if got := segmentsAfter(media, 100); len(got) != 0 {
		t.Errorf("segmentsAfter() past the window returned %d segments, want 0", len(got))
	}
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{"relative segment", "http://cdn.example/live/media.m3u8", "seg-1.ts", "http://cdn.example/live/seg-1.ts"},
		{"relative variant", "http://cdn.example/live/index.m3u8", "high/media.m3u8", "http://cdn.example/live/high/media.m3u8"},
		{"absolute reference wins", "http://cdn.example/live/index.m3u8", "http://other.example/x.ts", "http://other.example/x.ts"},
		{"root-relative reference", "http://cdn.example/live/index.m3u8", "/seg.ts", "http://cdn.example/seg.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveReference(tt.base, tt.ref)
			if err != nil {
				t.Fatalf("resolveReference() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveReference() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReloadInterval(t *testing.T) {
	media := decodeMediaPlaylist(t, buildMediaText(0, 1, false))

	media.TargetDuration = 4
	if got := reloadInterval(media); got != 2*time.Second {
		t.Errorf("reloadInterval(target 4s) = %v, want 2s", got)
	}

	media.TargetDuration = 0
	if got := reloadInterval(media); got != 2*time.Second {
		t.Errorf("reloadInterval(no target) = %v, want 2s", got)
	}

	media.TargetDuration = 0.1
	if got := reloadInterval(media); got != minReloadInterval {
		t.Errorf("reloadInterval(tiny target) = %v, want floor %v", got, minReloadInterval)
	}
}
