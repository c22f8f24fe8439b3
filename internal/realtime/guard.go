package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lectura/studyroom/internal/models"
)

// GuardStore is the subset of the store authorization reads from.
type GuardStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetPresentParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
}

// Guard resolves the acting participant fresh from storage on every call.
type Guard struct {
	store GuardStore
}

// NewGuard creates a guard.
func NewGuard(store GuardStore) *Guard {
	return &Guard{store: store}
}

// Participant returns the caller's present participant row, or ErrUnauthorized.
func (g *Guard) Participant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	p, err := g.store.GetPresentParticipant(ctx, sessionID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: not a participant", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	if p.IsBanned {
		return nil, fmt.Errorf("%w: banned", ErrUnauthorized)
	}
	return p, nil
}

// IsHost reports whether userID hosts the session.
func (g *Guard) IsHost(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	s, err := g.store.GetSession(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	return s.IsHost(userID), nil
}

// Host returns the caller's participant row if the caller is present and hosts the session.
func (g *Guard) Host(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	p, err := g.Participant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	host, err := g.IsHost(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !host {
		return nil, fmt.Errorf("%w: host only", ErrUnauthorized)
	}
	return p, nil
}

// IsMuted reports whether p is muted.
func IsMuted(p *models.Participant) bool {
	return p != nil && p.IsMuted
}
