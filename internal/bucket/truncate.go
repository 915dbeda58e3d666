// Package bucket folds attributed facts into calendar-bucketed aggregate
// rows. Bucketing happens in the run's reporting timezone; the fold is
// pure and commutative so batches can be aggregated in any order.
package bucket

import (
	"time"

	"github.com/sells-group/sales-cli/internal/model"
)

// Truncate snaps t to the start of its calendar bucket in loc. Weeks
// start on weekStart; quarters on Jan/Apr/Jul/Oct 1.
func Truncate(t time.Time, g model.Granularity, loc *time.Location, weekStart time.Weekday) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch g {
	case model.Week:
		back := (int(t.Weekday()) - int(weekStart) + 7) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
	case model.Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case model.Quarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case model.Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default: // day
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}
