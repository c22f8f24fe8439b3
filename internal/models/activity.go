package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Activity types written to the audit trail.
const (
	ActivityJoin          = "join"
	ActivityLeave         = "leave"
	ActivityTabSwitch     = "tab_switch"
	ActivityPause         = "pause"
	ActivityUnpause       = "unpause"
	ActivityBreakStart    = "break_start"
	ActivityBreakEnd      = "break_end"
	ActivityMuted         = "muted"
	ActivityKicked        = "kicked"
	ActivityConcentration = "concentration_toggle"
	ActivitySessionEnded  = "session_ended"
)

// ActivityLog is one append-only audit entry; never read back by the live protocol.
type ActivityLog struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    uuid.UUID       `json:"sessionId"`
	UserID       uuid.UUID       `json:"userId"`
	ActivityType string          `json:"activityType"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
