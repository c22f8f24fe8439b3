package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a collaborative study room. Exactly one host; EndedAt is set iff IsActive is false.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	SessionCode       string     `json:"sessionCode"`
	HostUserID        uuid.UUID  `json:"hostUserId"`
	IsActive          bool       `json:"isActive"`
	ConcentrationMode bool       `json:"concentrationMode"`
	CreatedAt         time.Time  `json:"createdAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
}

// IsHost reports whether userID hosts the session.
func (s *Session) IsHost(userID uuid.UUID) bool {
	return s.HostUserID == userID
}
