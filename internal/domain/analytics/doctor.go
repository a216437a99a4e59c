package analytics

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/booking"
)

const (
	minutesPerCompleted = 20
	minutesPerConfirmed = 15
	peakHourCount       = 3
)

var badges = []string{"gold", "silver", "bronze"}

// PeakHour is an hour of day with its appointment count.
type PeakHour struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DoctorAnalytics is the scorecard of one doctor.
type DoctorAnalytics struct {
	DoctorID               string     `json:"doctorId"`
	DoctorName             string     `json:"doctorName"`
	Specialization         string     `json:"specialization,omitempty"`
	TotalAppointments      int        `json:"totalAppointments"`
	UniquePatients         int        `json:"uniquePatients"`
	Revenue                float64    `json:"revenue"`
	AvgConsultationMinutes float64    `json:"avgConsultationMinutes"`
	PeakHours              []PeakHour `json:"peakHours"`
	Appointments           int        `json:"appointments"`
	WalkIns                int        `json:"walkIns"`
	WalkInRatio            float64    `json:"walkInRatio"`
	ActiveDays             int        `json:"activeDays"`
	Rank                   int        `json:"rank"`
	Badge                  string     `json:"badge,omitempty"`
}

type doctorAcc struct {
	card        DoctorAnalytics
	patients    map[string]struct{}
	days        map[string]struct{}
	hours       map[int]int
	revenue     decimal.Decimal
	minutes     int
	timedVisits int
}

// DoctorScorecards groups records by doctor. Cards are ordered by unique
// patients, then revenue, then doctor ID; the first three get a badge.
func DoctorScorecards(records []Record) []DoctorAnalytics {
	accs := make(map[string]*doctorAcc)
	for _, r := range records {
		acc, ok := accs[r.DoctorID]
		if !ok {
			acc = &doctorAcc{
				card:     DoctorAnalytics{DoctorID: r.DoctorID},
				patients: make(map[string]struct{}),
				days:     make(map[string]struct{}),
				hours:    make(map[int]int),
				revenue:  decimal.Zero,
			}
			accs[r.DoctorID] = acc
		}
		acc.add(r)
	}

	out := make([]DoctorAnalytics, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.finish())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UniquePatients != b.UniquePatients {
			return a.UniquePatients > b.UniquePatients
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.DoctorID < b.DoctorID
	})
	for i := range out {
		out[i].Rank = i + 1
		if i < len(badges) {
			out[i].Badge = badges[i]
		}
	}
	return out
}

func (a *doctorAcc) add(r Record) {
	c := &a.card
	if c.DoctorName == "" {
		c.DoctorName = r.DoctorName
	}
	if c.Specialization == "" {
		c.Specialization = r.Specialization
	}
	c.TotalAppointments++
	if r.PatientID != "" {
		a.patients[r.PatientID] = struct{}{}
	}
	if r.HasDate() {
		a.days[r.Date.Format("2006-01-02")] = struct{}{}
	}
	if r.Hour >= 0 {
		a.hours[r.Hour]++
	}
	if earnsRevenue(r) && r.Amount.IsPositive() {
		a.revenue = a.revenue.Add(r.Amount)
	}
	switch r.Status {
	case booking.StatusCompleted:
		a.minutes += minutesPerCompleted
		a.timedVisits++
	case booking.StatusConfirmed:
		a.minutes += minutesPerConfirmed
		a.timedVisits++
	}
	if r.CreatedBy == booking.CreatedByReceptionist {
		c.WalkIns++
	} else {
		c.Appointments++
	}
}

func (a *doctorAcc) finish() DoctorAnalytics {
	c := a.card
	c.UniquePatients = len(a.patients)
	c.ActiveDays = len(a.days)
	c.Revenue = a.revenue.InexactFloat64()
	if a.timedVisits > 0 {
		c.AvgConsultationMinutes = round1(float64(a.minutes) / float64(a.timedVisits))
	}
	if c.TotalAppointments > 0 {
		c.WalkInRatio = round2(float64(c.WalkIns) / float64(c.TotalAppointments))
	}
	c.PeakHours = peakHours(a.hours, peakHourCount)
	return c
}

// peakHours returns the n busiest hours, earlier hours first on ties.
func peakHours(hours map[int]int, n int) []PeakHour {
	out := make([]PeakHour, 0, len(hours))
	for h, count := range hours {
		out = append(out, PeakHour{Hour: h, Label: HourLabel(h), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour < out[j].Hour
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// HourLabel renders a 24-hour clock hour as "9 AM" / "12 PM".
func HourLabel(h int) string {
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d %s", h12, suffix)
}
