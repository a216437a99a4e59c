package analytics

import (
	"fmt"
	"time"
)

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Label     string    `json:"label"`
	FullLabel string    `json:"fullLabel"`
	Count     int       `json:"count"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

type TrendTotals struct {
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
	Yearly  int `json:"yearly"`
}

// TrendReport holds the weekly, monthly and yearly series around now.
type TrendReport struct {
	Weekly  []TrendPoint `json:"weekly"`
	Monthly []TrendPoint `json:"monthly"`
	Yearly  []TrendPoint `json:"yearly"`
	Totals  TrendTotals  `json:"totals"`
}

// Trends buckets records by appointment date. Each record lands in at most
// one bucket per series, by its date at midnight in now's location; records
// without a date are dropped.
func Trends(records []Record, now time.Time) TrendReport {
	rep := TrendReport{
		Weekly:  WeeklyBuckets(now),
		Monthly: MonthlyBuckets(now),
		Yearly:  YearlyBuckets(now),
	}
	loc := now.Location()
	for _, r := range records {
		if !r.HasDate() {
			continue
		}
		day := r.DayIn(loc)
		rep.Totals.Weekly += place(rep.Weekly, day)
		rep.Totals.Monthly += place(rep.Monthly, day)
		rep.Totals.Yearly += place(rep.Yearly, day)
	}
	return rep
}

// place counts day into the bucket whose [Start, End) holds it.
func place(buckets []TrendPoint, day time.Time) int {
	for i := range buckets {
		if !day.Before(buckets[i].Start) && day.Before(buckets[i].End) {
			buckets[i].Count++
			return 1
		}
	}
	return 0
}

// WeeklyBuckets returns one bucket per day of now's Monday-start week.
func WeeklyBuckets(now time.Time) []TrendPoint {
	today := startOfDay(now)
	monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	out := make([]TrendPoint, 0, 7)
	for i := 0; i < 7; i++ {
		start := monday.AddDate(0, 0, i)
		out = append(out, TrendPoint{
			Label:     start.Format("Mon"),
			FullLabel: start.Format("Monday, Jan 2"),
			Start:     start,
			End:       start.AddDate(0, 0, 1),
		})
	}
	return out
}

// MonthlyBuckets splits now's month into the day ranges 1-5, 6-10, 11-15,
// 16-20, 21-25 and 26 to month end. Ranges are clipped at the month length
// and a range starting after it is left out.
func MonthlyBuckets(now time.Time) []TrendPoint {
	y, m, _ := now.Date()
	loc := now.Location()
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	lastDay := first.AddDate(0, 1, -1).Day()

	out := make([]TrendPoint, 0, 6)
	for startDay := 1; startDay <= 26; startDay += 5 {
		if startDay > lastDay {
			break
		}
		endDay := startDay + 4
		if startDay == 26 || endDay > lastDay {
			endDay = lastDay
		}
		start := time.Date(y, m, startDay, 0, 0, 0, 0, loc)
		last := time.Date(y, m, endDay, 0, 0, 0, 0, loc)
		out = append(out, TrendPoint{
			Label:     fmt.Sprintf("%d-%d", startDay, endDay),
			FullLabel: fmt.Sprintf("%s - %s", start.Format("Jan 2"), last.Format("Jan 2")),
			Start:     start,
			End:       last.AddDate(0, 0, 1),
		})
	}
	return out
}

// YearlyBuckets returns one bucket per calendar month of now's year.
func YearlyBuckets(now time.Time) []TrendPoint {
	y := now.Year()
	loc := now.Location()
	out := make([]TrendPoint, 0, 12)
	for m := time.January; m <= time.December; m++ {
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		out = append(out, TrendPoint{
			Label:     start.Format("Jan"),
			FullLabel: start.Format("January 2006"),
			Start:     start,
			End:       start.AddDate(0, 1, 0),
		})
	}
	return out
}
