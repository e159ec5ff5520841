// Package sequence computes when a campaign step fires and moves enrollments
// from one step to the next.
package sequence

import (
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// NextSendTime returns the instant at which step should fire, measured from
// ref. The delay is applied first, then the step's time of day replaces the
// clock time on that date (which may land earlier than ref), then the date
// rolls forward one day at a time until it falls on an allowed weekday.
//
// The result is expressed in ref's location. Callers pass ref already
// converted to the campaign's timezone.
func NextSendTime(ref time.Time, step domain.Step) time.Time {
	t := ref.AddDate(0, 0, step.DelayDays).Add(time.Duration(step.DelayHours) * time.Hour)

	if step.SendTime != nil {
		t = step.SendTime.On(t)
	}

	if len(step.SendDays) > 0 {
		// Seven consecutive days cover every weekday.
		for i := 0; i < 7 && !step.AllowsWeekday(domain.ISOWeekday(t)); i++ {
			t = t.AddDate(0, 0, 1)
		}
	}
	return t
}
