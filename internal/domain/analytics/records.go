// Package analytics turns a hospital's appointments into dashboard reports.
// Every report function is pure: it reads a snapshot of records and an
// explicit "now", never mutates its input and skips malformed records
// instead of failing.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/booking"
)

// ErrMalformedRecord is returned by ParseRaw for documents that cannot be
// attributed to an appointment and a doctor.
var ErrMalformedRecord = errors.New("malformed appointment record")

// Record is the typed view of an appointment used by every report.
type Record struct {
	ID             string
	PatientID      string
	DoctorID       string
	DoctorName     string
	Specialization string
	// Date is the civil appointment date at UTC midnight, zero when the
	// stored value could not be parsed.
	Date           time.Time
	// Hour is the hour of the appointment time, -1 when unparseable.
	Hour           int
	Status         string
	PaymentStatus  string
	CreatedBy      string
	ChiefComplaint string
	Medicines      string
	BranchID       string
	Amount         decimal.Decimal
}

// HasDate reports whether the appointment date was parsed.
func (r Record) HasDate() bool { return !r.Date.IsZero() }

// DayIn returns the appointment date at midnight in loc.
func (r Record) DayIn(loc *time.Location) time.Time {
	return time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, loc)
}

// ParseRecords converts appointments into records. Appointments without an
// ID or doctor are rejected; the second return value counts them.
func ParseRecords(appts []booking.Appointment) ([]Record, int) {
	out := make([]Record, 0, len(appts))
	rejected := 0
	for i := range appts {
		a := &appts[i]
		id := ""
		if a.ID != uuid.Nil {
			id = a.ID.String()
		}
		rec, err := newRecord(rawFields{
			id:             id,
			patientID:      a.PatientID,
			doctorID:       a.DoctorID,
			doctorName:     a.DoctorName,
			specialization: a.Specialization,
			date:           a.AppointmentDate,
			clock:          a.AppointmentTime,
			status:         a.Status,
			paymentStatus:  a.PaymentStatus,
			createdBy:      a.CreatedBy,
			chiefComplaint: a.ChiefComplaint,
			medicines:      a.Medicines,
			branchID:       a.BranchID,
			paymentAmount:  decimal.NewFromFloat(a.PaymentAmount),
			consultation:   decimal.NewFromFloat(a.TotalConsultationFee),
		})
		if err != nil {
			rejected++
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}

// ParseRaw converts a loosely typed appointment document, as found in
// imports and serverless payloads, into a Record. Amounts may be JSON numbers
// or numeric strings; anything else counts as zero.
func ParseRaw(doc map[string]any) (Record, error) {
	return newRecord(rawFields{
		id:             stringField(doc, "id"),
		patientID:      stringField(doc, "patientId"),
		doctorID:       stringField(doc, "doctorId"),
		doctorName:     stringField(doc, "doctorName"),
		specialization: stringField(doc, "specialization"),
		date:           stringField(doc, "appointmentDate"),
		clock:          stringField(doc, "appointmentTime"),
		status:         stringField(doc, "status"),
		paymentStatus:  stringField(doc, "paymentStatus"),
		createdBy:      stringField(doc, "createdBy"),
		chiefComplaint: stringField(doc, "chiefComplaint"),
		medicines:      medicinesField(doc["medicines"]),
		branchID:       stringField(doc, "branchId"),
		paymentAmount:  amountField(doc["paymentAmount"]),
		consultation:   amountField(doc["totalConsultationFee"]),
	})
}

// ParseRawRecords applies ParseRaw to every document and counts rejects.
func ParseRawRecords(docs []map[string]any) ([]Record, int) {
	out := make([]Record, 0, len(docs))
	rejected := 0
	for _, d := range docs {
		rec, err := ParseRaw(d)
		if err != nil {
			rejected++
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}

type rawFields struct {
	id, patientID, doctorID, doctorName, specialization string
	date, clock                                         string
	status, paymentStatus, createdBy                    string
	chiefComplaint, medicines, branchID                 string
	paymentAmount, consultation                         decimal.Decimal
}

func newRecord(f rawFields) (Record, error) {
	if strings.TrimSpace(f.id) == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if strings.TrimSpace(f.doctorID) == "" {
		return Record{}, fmt.Errorf("%w: %s has no doctor", ErrMalformedRecord, f.id)
	}

	amount := f.paymentAmount
	if amount.IsZero() {
		amount = f.consultation
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Record{
		ID:             f.id,
		PatientID:      strings.TrimSpace(f.patientID),
		DoctorID:       strings.TrimSpace(f.doctorID),
		DoctorName:     f.doctorName,
		Specialization: f.specialization,
		Date:           parseDate(f.date),
		Hour:           parseHour(f.clock),
		Status:         strings.ToLower(strings.TrimSpace(f.status)),
		PaymentStatus:  strings.ToLower(strings.TrimSpace(f.paymentStatus)),
		CreatedBy:      strings.ToLower(strings.TrimSpace(f.createdBy)),
		ChiefComplaint: f.chiefComplaint,
		Medicines:      f.medicines,
		BranchID:       f.branchID,
		Amount:         amount,
	}, nil
}

func parseDate(s string) time.Time {
	norm, err := booking.NormalizeDate(s)
	if err != nil {
		return time.Time{}
	}
	t, _ := time.Parse(time.DateOnly, norm)
	return t
}

func parseHour(s string) int {
	norm, err := booking.NormalizeTime(s)
	if err != nil {
		return -1
	}
	h, _ := strconv.Atoi(norm[:2])
	return h
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func amountField(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(n)); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// medicinesField flattens the prescription, which older documents store as
// a list of {name, dosage} entries instead of free text.
func medicinesField(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, item := range m {
			switch e := item.(type) {
			case string:
				parts = append(parts, e)
			case map[string]any:
				if name, ok := e["name"].(string); ok {
					parts = append(parts, name)
				}
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
