package models

import (
	"time"

	"github.com/google/uuid"
)

// StudySession is a solo (non-collaborative) focus session tracked by PATCH updates.
type StudySession struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"userId"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	TabSwitches     int        `json:"tabSwitches"`
	BreakSeconds    int        `json:"breakSeconds"`
	CreditedMinutes int        `json:"creditedMinutes"`
}

// StudyStats is a user's cumulative credited study time.
type StudyStats struct {
	UserID            uuid.UUID `json:"userId"`
	TotalStudyMinutes int       `json:"totalStudyMinutes"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
