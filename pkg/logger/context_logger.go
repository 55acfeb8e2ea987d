package logger

import (
	"context"

	"go.uber.org/zap"
)

// Context keys are typed and private; the With helpers are the only way
// to stamp a value, so keys cannot collide with other packages.
type ctxKey int

const (
	keySessionID ctxKey = iota
	keyParticipantID
)

// WithSessionID returns a context carrying the live session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySessionID, id)
}

// WithParticipantID returns a context carrying the acting participant id.
func WithParticipantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyParticipantID, id)
}

// FromContext enriches base with whatever session scope the context
// carries. A context with no scope returns base unchanged, so callers can
// use it unconditionally.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}

	args := make([]interface{}, 0, 4)
	if id, ok := ctx.Value(keySessionID).(string); ok && id != "" {
		args = append(args, "session_id", id)
	}
	if id, ok := ctx.Value(keyParticipantID).(string); ok && id != "" {
		args = append(args, "participant_id", id)
	}

	if len(args) == 0 {
		return base
	}
	return base.With(args...)
}
