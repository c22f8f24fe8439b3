package sessions

import (
	"time"

	"github.com/lectura/studyroom/internal/models"
)

// TabSwitchPenaltyMinutes is deducted per recorded tab switch.
const TabSwitchPenaltyMinutes = 1

// EffectiveMinutes applies the focus-credit heuristic:
// max(0, elapsed - breaks - tabSwitches*penalty), all in whole minutes.
func EffectiveMinutes(elapsed time.Duration, breakSeconds, tabSwitches int) int {
	minutes := int(elapsed/time.Minute) - breakSeconds/60 - tabSwitches*TabSwitchPenaltyMinutes
	if minutes < 0 {
		return 0
	}
	return minutes
}

// ParticipantCredit computes the minutes p earns when the session ends at end.
// A break still running at end counts up to end.
func ParticipantCredit(p *models.Participant, end time.Time) int {
	breakSeconds := p.BreakDuration
	if p.IsOnBreak && p.BreakStartTime != nil && end.After(*p.BreakStartTime) {
		breakSeconds += int(end.Sub(*p.BreakStartTime) / time.Second)
	}
	return EffectiveMinutes(end.Sub(p.JoinedAt), breakSeconds, p.TabSwitches)
}
