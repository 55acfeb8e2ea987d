package webrtc

import (
	"context"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/optimize"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	syntheticWidth     = 640
	syntheticHeight    = 360
	syntheticFrameRate = 15

	videoClockRate = 90000
	audioClockRate = 48000

	syntheticVideoPayload = 1200
	syntheticAudioPayload = 160
	audioFrameDuration    = 20 * time.Millisecond
)

// SyntheticCapture produces a generated audio+video feed without touching
// any device. The video payload is a rolling byte pattern, not decodable
// media; it exercises the publish transport in tests and in
// `livectl -synthetic`.
type SyntheticCapture struct{}

func NewSyntheticCapture() *SyntheticCapture {
	return &SyntheticCapture{}
}

// Acquire builds the RTP tracks and starts the pattern generators. The
// generators drop packets until the tracks are bound to a transport.
func (s *SyntheticCapture) Acquire(ctx context.Context) (ports.CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		"video", "synthetic",
	)
	if err != nil {
		return nil, apperrors.NewCaptureError(err)
	}
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: 2},
		"audio", "synthetic",
	)
	if err != nil {
		return nil, apperrors.NewCaptureError(err)
	}

	h := &syntheticHandle{
		video: video,
		audio: audio,
		pool:  optimize.NewBytePool(syntheticVideoPayload),
		done:  make(chan struct{}),
	}
	go h.pumpVideo()
	go h.pumpAudio()
	return h, nil
}

type syntheticHandle struct {
	video *webrtc.TrackLocalStaticRTP
	audio *webrtc.TrackLocalStaticRTP
	pool  *optimize.BytePool
	done  chan struct{}

	closeOnce sync.Once
}

func (h *syntheticHandle) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{h.video, h.audio}
}

func (h *syntheticHandle) Settings() domain.TrackSettings {
	return domain.TrackSettings{
		Width:      syntheticWidth,
		Height:     syntheticHeight,
		FrameRate:  syntheticFrameRate,
		VideoCodec: webrtc.MimeTypeVP8,
		AudioCodec: webrtc.MimeTypeOpus,
	}
}

// PopulateEngine registers the VP8 and Opus parameters the generated
// packets are stamped with.
func (h *syntheticHandle) PopulateEngine(engine *webrtc.MediaEngine) error {
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: videoClockRate,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}
	return engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audioClockRate,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
}

// Close stops the generators. Safe to call more than once.
func (h *syntheticHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	return nil
}

func (h *syntheticHandle) pumpVideo() {
	ticker := time.NewTicker(time.Second / syntheticFrameRate)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	var frameNo byte
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		buf := h.pool.Get()
		for i := range buf {
			buf[i] = frameNo ^ byte(i)
		}
		// Write failures mean nothing is bound yet; the frame is dropped.
		_ = h.video.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, Marker: true, SequenceNumber: seq, Timestamp: ts},
			Payload: buf,
		})
		h.pool.Put(buf)
		seq++
		ts += videoClockRate / syntheticFrameRate
		frameNo++
	}
}

func (h *syntheticHandle) pumpAudio() {
	ticker := time.NewTicker(audioFrameDuration)
	defer ticker.Stop()

	samplesPerFrame := uint32(audioClockRate * audioFrameDuration / time.Second)

	var seq uint16
	var ts uint32
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		buf := h.pool.Get()
		payload := buf[:syntheticAudioPayload]
		for i := range payload {
			payload[i] = byte(seq)
		}
		_ = h.audio.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts},
			Payload: payload,
		})
		h.pool.Put(buf)
		seq++
		ts += samplesPerFrame
	}
}
