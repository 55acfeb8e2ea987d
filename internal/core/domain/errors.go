package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidIdentity    = errors.New("invalid session identity")
	ErrAlreadyStarted     = errors.New("component already started")
	ErrNotStarted         = errors.New("component not started")
	ErrCaptureUnavailable = errors.New("capture device unavailable")
	ErrChannelClosed      = errors.New("chat channel closed")
	ErrSessionStopped     = errors.New("session stopped")
)
