package analytics

import (
	"sort"
	"time"

	"github.com/hms/hms/internal/domain/booking"
)

const (
	weightPatients     = 0.4
	weightAppointments = 0.4
	weightRevenue      = 0.2
)

// Receptionist is a front-desk account of a hospital.
type Receptionist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BranchID string `json:"branchId,omitempty"`
	Active   bool   `json:"active"`
}

// BookingSources splits appointments by who created them. Manual counts
// receptionist and patient-portal bookings together.
type BookingSources struct {
	WhatsApp      int `json:"whatsapp"`
	Receptionist  int `json:"receptionist"`
	PatientPortal int `json:"patientPortal"`
	Manual        int `json:"manual"`
	Doctor        int `json:"doctor"`
	Total         int `json:"total"`
}

// ClassifySources counts records per booking source.
func ClassifySources(records []Record) BookingSources {
	var s BookingSources
	for _, r := range records {
		s.Total++
		switch r.CreatedBy {
		case booking.CreatedByWhatsApp, booking.CreatedByWhatsAppFlow:
			s.WhatsApp++
		case booking.CreatedByReceptionist:
			s.Receptionist++
		case booking.CreatedByPatient:
			s.PatientPortal++
		case booking.CreatedByDoctor:
			s.Doctor++
		}
	}
	s.Manual = s.Receptionist + s.PatientPortal
	return s
}

// ReceptionistAnalytics is the scorecard of one receptionist.
type ReceptionistAnalytics struct {
	ReceptionistID string  `json:"receptionistId"`
	Name           string  `json:"name"`
	BranchID       string  `json:"branchId,omitempty"`
	Patients       float64 `json:"patients"`
	Appointments   float64 `json:"appointments"`
	Revenue        float64 `json:"revenue"`
	Score          float64 `json:"score"`
	Rank           int     `json:"rank"`
}

// ReceptionistScorecards scores active receptionists. Appointments carry no
// receptionist attribution, so the hospital-wide totals are split equally
// between them. Score is 40% relative patients, 40% relative appointments
// and 20% relative revenue, scaled to 100.
func ReceptionistScorecards(records []Record, receptionists []Receptionist) []ReceptionistAnalytics {
	active := make([]Receptionist, 0, len(receptionists))
	for _, r := range receptionists {
		if r.Active {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return []ReceptionistAnalytics{}
	}

	patients := make(map[string]struct{})
	for _, r := range records {
		if r.PatientID != "" {
			patients[r.PatientID] = struct{}{}
		}
	}
	n := float64(len(active))
	share := struct{ patients, appointments, revenue float64 }{
		patients:     float64(len(patients)) / n,
		appointments: float64(len(records)) / n,
		revenue:      revenueDecimal(records, 0, time.Time{}).InexactFloat64() / n,
	}

	out := make([]ReceptionistAnalytics, 0, len(active))
	for _, r := range active {
		out = append(out, ReceptionistAnalytics{
			ReceptionistID: r.ID,
			Name:           r.Name,
			BranchID:       r.BranchID,
			Patients:       round1(share.patients),
			Appointments:   round1(share.appointments),
			Revenue:        round2(share.revenue),
		})
	}

	var maxP, maxA, maxR float64
	for _, c := range out {
		maxP = max(maxP, c.Patients)
		maxA = max(maxA, c.Appointments)
		maxR = max(maxR, c.Revenue)
	}
	for i := range out {
		c := &out[i]
		score := weightPatients*ratio(c.Patients, maxP) +
			weightAppointments*ratio(c.Appointments, maxA) +
			weightRevenue*ratio(c.Revenue, maxR)
		c.Score = round1(score * 100)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ReceptionistID < out[j].ReceptionistID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func ratio(v, maxV float64) float64 {
	if maxV <= 0 {
		return 0
	}
	return v / maxV
}
