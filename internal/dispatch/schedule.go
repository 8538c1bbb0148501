// internal/dispatch/schedule.go
package dispatch

import (
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// ExecuteAt computes the earliest execution time for an action enqueued at
// now under the rule's policy. The delay window is applied first; if
// SkipWeekends is set and the result lands on Saturday or Sunday, execution
// shifts to the following Monday at the same time of day.
func ExecuteAt(policy types.ExecutionPolicy, now time.Time) time.Time {
	at := now.Add(policy.Delay.Duration())
	if policy.SkipWeekends {
		switch at.Weekday() {
		case time.Saturday:
			at = at.AddDate(0, 0, 2)
		case time.Sunday:
			at = at.AddDate(0, 0, 1)
		}
	}
	return at
}
