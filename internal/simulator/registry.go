package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"livecast/internal/core/domain"
)

// ErrBadTransition is returned when a status change would skip or reverse
// the IDLE -> LIVE -> ENDED order.
var ErrBadTransition = errors.New("invalid session status transition")

// Session is one broadcast tracked by the simulator.
type Session struct {
	ID        domain.SessionID
	Title     string
	Owner     domain.ParticipantID
	Status    domain.SessionStatus
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Registry is the in-memory session store. All status changes go through
// MarkLive and MarkEnded so the lifecycle order always holds. Accessors
// return copies, never the stored record.
type Registry struct {
	sessions map[domain.SessionID]*Session
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*Session),
	}
}

func (r *Registry) Create(id domain.SessionID, title string, owner domain.ParticipantID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return Session{}, fmt.Errorf("session already exists: %s", id)
	}

	s := &Session{
		ID:        id,
		Title:     title,
		Owner:     owner,
		Status:    domain.StatusIdle,
		CreatedAt: time.Now(),
	}
	r.sessions[id] = s
	return *s, nil
}

func (r *Registry) Get(id domain.SessionID) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[id]
	if !exists {
		return Session{}, domain.ErrSessionNotFound
	}
	return *s, nil
}

func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// MarkLive flips a session to LIVE when its publisher connects.
func (r *Registry) MarkLive(id domain.SessionID) (Session, error) {
	return r.transition(id, domain.StatusLive)
}

// MarkEnded flips a session to ENDED. Ending an already ended session is a
// no-op so the stop endpoint stays idempotent.
func (r *Registry) MarkEnded(id domain.SessionID) (Session, error) {
	return r.transition(id, domain.StatusEnded)
}

func (r *Registry) transition(id domain.SessionID, target domain.SessionStatus) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return Session{}, domain.ErrSessionNotFound
	}
	if s.Status == target {
		return *s, nil
	}
	if !s.Status.CanTransitionTo(target) {
		return Session{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.Status, target)
	}

	s.Status = target
	switch target {
	case domain.StatusLive:
		s.StartedAt = time.Now()
	case domain.StatusEnded:
		s.EndedAt = time.Now()
	}
	return *s, nil
}
