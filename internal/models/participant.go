package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is a user's role inside a session.
type ParticipantRole string

const (
	ParticipantRoleHost   ParticipantRole = "host"
	ParticipantRoleMember ParticipantRole = "member"
)

// Participant is a user's membership in a session. LeftAt == nil means currently present.
type Participant struct {
	ID             uuid.UUID       `json:"id"`
	SessionID      uuid.UUID       `json:"sessionId"`
	UserID         uuid.UUID       `json:"userId"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LeftAt         *time.Time      `json:"leftAt,omitempty"`
	TabSwitches    int             `json:"tabSwitches"`
	PauseCount     int             `json:"pauseCount"`
	IsOnBreak      bool            `json:"isOnBreak"`
	BreakStartTime *time.Time      `json:"breakStartTime,omitempty"`
	BreakDuration  int             `json:"breakDuration"` // accumulated seconds
	IsMuted        bool            `json:"isMuted"`
	IsBanned       bool            `json:"isBanned"`
}

// IsPresent reports whether the participant has not left.
func (p *Participant) IsPresent() bool {
	return p.LeftAt == nil
}

// ParticipantProfile is a participant joined with the user's display name.
type ParticipantProfile struct {
	Participant
	FullName string `json:"fullName"`
}
