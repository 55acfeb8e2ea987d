package ports

import (
	"context"

	"livecast/internal/core/domain"
)

// SessionRepository stores the simulator's live sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.LiveSession) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.LiveSession, error)
	Update(ctx context.Context, session *domain.LiveSession) error
	Delete(ctx context.Context, id domain.SessionID) error
	ListActive(ctx context.Context) ([]*domain.LiveSession, error)
}
