package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusConfirmed       = "confirmed"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusRescheduled     = "rescheduled"
	StatusNotAttended     = "not_attended"
	StatusWhatsAppPending = "whatsapp_pending"
)

const (
	CreatedByPatient      = "patient"
	CreatedByReceptionist = "receptionist"
	CreatedByDoctor       = "doctor"
	CreatedByWhatsApp     = "whatsapp"
	CreatedByWhatsAppFlow = "whatsapp_flow"
)

const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentCancelled = "cancelled"
	PaymentRefunded  = "refunded"
)

const (
	TypeRegular   = "regular"
	TypeEmergency = "emergency"
	TypeRecheck   = "recheck"
)

var validStatuses = map[string]bool{
	StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true,
	StatusRescheduled: true, StatusNotAttended: true, StatusWhatsAppPending: true,
}

var validCreatedBy = map[string]bool{
	CreatedByPatient: true, CreatedByReceptionist: true, CreatedByDoctor: true,
	CreatedByWhatsApp: true, CreatedByWhatsAppFlow: true,
}

var validPaymentStatuses = map[string]bool{
	PaymentPending: true, PaymentPaid: true, PaymentCancelled: true, PaymentRefunded: true,
}

var validTypes = map[string]bool{
	TypeRegular: true, TypeEmergency: true, TypeRecheck: true,
}

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	StatusConfirmed:       {StatusCompleted, StatusCancelled, StatusRescheduled, StatusNotAttended},
	StatusWhatsAppPending: {StatusConfirmed, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the appointment still occupies its slot.
func IsActive(status string) bool {
	return status != StatusCancelled
}

// Appointment maps to the appointments table of a hospital schema.
type Appointment struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	PatientID            string    `db:"patient_id" json:"patientId"`
	PatientName          string    `db:"patient_name" json:"patientName,omitempty"`
	PatientPhone         string    `db:"patient_phone" json:"patientPhone,omitempty"`
	DoctorID             string    `db:"doctor_id" json:"doctorId"`
	DoctorName           string    `db:"doctor_name" json:"doctorName,omitempty"`
	Specialization       string    `db:"specialization" json:"specialization,omitempty"`
	AppointmentDate      string    `db:"appointment_date" json:"appointmentDate"`
	AppointmentTime      string    `db:"appointment_time" json:"appointmentTime"`
	Status               string    `db:"status" json:"status"`
	AppointmentType      string    `db:"appointment_type" json:"appointmentType"`
	PaymentAmount        float64   `db:"payment_amount" json:"paymentAmount"`
	TotalConsultationFee float64   `db:"total_consultation_fee" json:"totalConsultationFee"`
	PaymentStatus        string    `db:"payment_status" json:"paymentStatus"`
	PaymentMethod        string    `db:"payment_method" json:"paymentMethod,omitempty"`
	CreatedBy            string    `db:"created_by" json:"createdBy"`
	ChiefComplaint       string    `db:"chief_complaint" json:"chiefComplaint,omitempty"`
	Medicines            string    `db:"medicines" json:"medicines,omitempty"`
	BranchID             string    `db:"branch_id" json:"branchId,omitempty"`
	BranchName           string    `db:"branch_name" json:"branchName,omitempty"`
	HospitalID           string    `db:"hospital_id" json:"hospitalId"`
	Overbooked           bool      `db:"overbooked" json:"overbooked"`
	CreatedAt            time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time `db:"updated_at" json:"updatedAt"`
}

// SlotLock marks a (doctor, date, time) slot as taken. It is written once,
// in the same transaction as the appointment it points at.
type SlotLock struct {
	Key           string    `db:"key" json:"key"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointmentId"`
	DoctorID      string    `db:"doctor_id" json:"doctorId"`
	Date          string    `db:"date" json:"date"`
	Time          string    `db:"time" json:"time"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Filter narrows ListAppointments. Empty fields match everything.
type Filter struct {
	DoctorID  string
	PatientID string
	Date      string
	Status    string
	BranchID  string
}

var (
	// ErrSlotAlreadyBooked is returned when the slot lock is held by another
	// appointment.
	ErrSlotAlreadyBooked = errors.New("SLOT_ALREADY_BOOKED")
	ErrWriteFailed       = errors.New("appointment write failed")
	ErrNotFound          = errors.New("appointment not found")
	// ErrStatusChanged means the appointment's status moved between read and write.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// ValidationError reports a request rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
