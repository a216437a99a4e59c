package analytics

import (
	"fmt"
	"time"
)

// TimeRange selects how far back a report looks.
type TimeRange string

const (
	Range30Days  TimeRange = "30d"
	Range3Months TimeRange = "3m"
	Range6Months TimeRange = "6m"
	Range1Year   TimeRange = "1y"
	RangeAll     TimeRange = "all"
)

// DefaultRange applies when the caller does not pick one.
const DefaultRange = Range30Days

var rangeDays = map[TimeRange]int{
	Range30Days:  30,
	Range3Months: 90,
	Range6Months: 180,
	Range1Year:   365,
	RangeAll:     0,
}

// ParseTimeRange accepts the range names used by the dashboard. An empty
// string yields DefaultRange.
func ParseTimeRange(s string) (TimeRange, error) {
	if s == "" {
		return DefaultRange, nil
	}
	r := TimeRange(s)
	if _, ok := rangeDays[r]; !ok {
		return "", fmt.Errorf("unknown range %q (want 30d, 3m, 6m, 1y or all)", s)
	}
	return r, nil
}

// Days is the fixed day offset of the range; 0 means unbounded.
func (r TimeRange) Days() int { return rangeDays[r] }

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FilterRange keeps records dated on or after startOfDay(now) minus the
// range's day offset. Upcoming appointments stay in. Records without a
// parseable date only survive RangeAll.
func FilterRange(records []Record, rng TimeRange, now time.Time) []Record {
	days := rng.Days()
	out := make([]Record, 0, len(records))
	if days == 0 {
		return append(out, records...)
	}
	cutoff := startOfDay(now).AddDate(0, 0, -days)
	for _, r := range records {
		if !r.HasDate() {
			continue
		}
		if r.DayIn(now.Location()).Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterBranch keeps records of one branch. An empty branch keeps all.
func FilterBranch(records []Record, branchID string) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if branchID == "" || r.BranchID == branchID {
			out = append(out, r)
		}
	}
	return out
}

// FilterDoctor keeps the records of one doctor. An empty ID keeps all.
func FilterDoctor(records []Record, doctorID string) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if doctorID == "" || r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out
}
