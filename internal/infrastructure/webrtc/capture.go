package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	rlog "livecast/pkg/logger"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

const (
	defaultCaptureWidth     = 1280
	defaultCaptureHeight    = 720
	defaultCaptureFrameRate = 30

	videoBitRate    = 1_000_000
	audioBitRate    = 48_000
	audioSampleRate = 48000
)

// DeviceCapture opens the local camera and microphone through mediadevices,
// encoding VP8 video and Opus audio. The requested resolution and frame rate
// are targets: the driver picks the closest mode the hardware supports.
type DeviceCapture struct {
	width     int
	height    int
	frameRate float64
	logger    *zap.SugaredLogger
}

// NewDeviceCapture creates a capture source targeting the given video mode.
// Non-positive values fall back to 1280x720 at 30 fps.
func NewDeviceCapture(width, height int, frameRate float64) *DeviceCapture {
	if width <= 0 {
		width = defaultCaptureWidth
	}
	if height <= 0 {
		height = defaultCaptureHeight
	}
	if frameRate <= 0 {
		frameRate = defaultCaptureFrameRate
	}
	return &DeviceCapture{
		width:     width,
		height:    height,
		frameRate: frameRate,
		logger:    rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (d *DeviceCapture) SetLogger(logger *zap.SugaredLogger) {
	d.logger = logger
}

// Acquire opens the devices and returns the live handle. A device that
// cannot be opened is a terminal condition for the caller: freeing it needs
// user action, not a retry loop.
func (d *DeviceCapture) Acquire(ctx context.Context) (ports.CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, apperrors.NewCaptureError(err)
	}
	vp8Params.BitRate = videoBitRate
	vp8Params.KeyFrameInterval = int(d.frameRate) * 2

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, apperrors.NewCaptureError(err)
	}
	opusParams.BitRate = audioBitRate
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormat(frame.FormatI420)
			c.Width = prop.Int(d.width)
			c.Height = prop.Int(d.height)
			c.FrameRate = prop.Float(d.frameRate)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(audioSampleRate)
			c.ChannelCount = prop.Int(1)
		},
		Codec: selector,
	})
	if err != nil {
		return nil, apperrors.NewCaptureError(err)
	}

	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil && !errors.Is(err, io.EOF) {
				d.logger.Warnw("capture track ended", "error", err)
			}
		})
	}

	d.logger.Debugw("capture devices opened",
		"width", d.width, "height", d.height, "frame_rate", d.frameRate)

	return &deviceHandle{
		stream:   stream,
		selector: selector,
		settings: domain.TrackSettings{
			Width:      d.width,
			Height:     d.height,
			FrameRate:  d.frameRate,
			VideoCodec: webrtc.MimeTypeVP8,
			AudioCodec: webrtc.MimeTypeOpus,
		},
	}, nil
}

// deviceHandle owns the opened devices until Close.
type deviceHandle struct {
	stream   mediadevices.MediaStream
	selector *mediadevices.CodecSelector
	settings domain.TrackSettings

	closeOnce sync.Once
	closeErr  error
}

func (h *deviceHandle) Tracks() []webrtc.TrackLocal {
	tracks := h.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (h *deviceHandle) Settings() domain.TrackSettings {
	return h.settings
}

// PopulateEngine registers the encoder codecs the capture was opened with.
func (h *deviceHandle) PopulateEngine(engine *webrtc.MediaEngine) error {
	h.selector.Populate(engine)
	return nil
}

// Close releases the devices. Safe to call more than once.
func (h *deviceHandle) Close() error {
	h.closeOnce.Do(func() {
		for _, track := range h.stream.GetTracks() {
			if err := track.Close(); err != nil && h.closeErr == nil {
				h.closeErr = err
			}
		}
	})
	return h.closeErr
}
