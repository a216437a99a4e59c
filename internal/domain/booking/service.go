package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/pdf"
	"github.com/hms/hms/internal/platform/tracing"
)

// Notifier delivers a templated message without blocking the caller.
type Notifier interface {
	Dispatch(ctx context.Context, to, templateID string, data map[string]string)
}

type DocumentRenderer interface {
	Prescription(doc pdf.Document) ([]byte, error)
	Invoice(doc pdf.Document) ([]byte, error)
}

const (
	DocumentPrescription = "prescription"
	DocumentInvoice      = "invoice"
)

var ErrDocumentsUnavailable = errors.New("document rendering is not configured")

// ReserveRequest is the input of ReserveAndCreate.
type ReserveRequest struct {
	DoctorID           string  `json:"doctorId"`
	Date               string  `json:"date"`
	Time               string  `json:"time"`
	OverbookingAllowed bool    `json:"overbookingAllowed"`
	Payload            Payload `json:"payload"`
}

// Payload carries the appointment fields that are not part of the slot.
type Payload struct {
	PatientID            string  `json:"patientId"`
	PatientName          string  `json:"patientName"`
	PatientPhone         string  `json:"patientPhone"`
	DoctorName           string  `json:"doctorName"`
	Specialization       string  `json:"specialization"`
	Status               string  `json:"status"`
	AppointmentType      string  `json:"appointmentType"`
	PaymentAmount        float64 `json:"paymentAmount"`
	TotalConsultationFee float64 `json:"totalConsultationFee"`
	PaymentStatus        string  `json:"paymentStatus"`
	PaymentMethod        string  `json:"paymentMethod"`
	CreatedBy            string  `json:"createdBy"`
	ChiefComplaint       string  `json:"chiefComplaint"`
	Medicines            string  `json:"medicines"`
	BranchID             string  `json:"branchId"`
	BranchName           string  `json:"branchName"`
}

type Service struct {
	store    Store
	notifier Notifier
	docs     DocumentRenderer
	metrics  *metrics.Collector
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewService(store Store, notifier Notifier, docs DocumentRenderer, col *metrics.Collector, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		docs:     docs,
		metrics:  col,
		logger:   logger.With().Str("component", "booking").Logger(),
		tracer:   tracing.Tracer("github.com/hms/hms/internal/domain/booking"),
	}
}

// ReserveAndCreate books a slot for the hospital in ctx. At most one
// non-overbooked appointment holds a given (doctor, date, time) slot;
// a second caller gets ErrSlotAlreadyBooked. Emergency and re-check
// bookings may set OverbookingAllowed to share an occupied slot.
func (s *Service) ReserveAndCreate(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.ReserveAndCreate")
	defer span.End()

	appt, err := buildAppointment(ctx, req)
	if err != nil {
		s.metrics.ObserveReservation("invalid")
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}
	key := SlotKey(appt.DoctorID, appt.AppointmentDate, appt.AppointmentTime)
	span.SetAttributes(
		attribute.String("hospital.id", appt.HospitalID),
		attribute.String("slot.key", key),
		attribute.Bool("slot.overbooking_allowed", req.OverbookingAllowed),
	)

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		// fn may run more than once; every attempt starts clean.
		appt.ID = uuid.New()
		appt.Overbooked = false

		lock, err := tx.GetSlotLock(ctx, key)
		if err != nil {
			return err
		}
		if lock != nil {
			if !req.OverbookingAllowed {
				return ErrSlotAlreadyBooked
			}
			appt.Overbooked = true
		} else {
			err := tx.ReserveKeyOrFail(ctx, &SlotLock{
				Key:           key,
				AppointmentID: appt.ID,
				DoctorID:      appt.DoctorID,
				Date:          appt.AppointmentDate,
				Time:          appt.AppointmentTime,
			})
			switch {
			case errors.Is(err, ErrSlotAlreadyBooked) && req.OverbookingAllowed:
				// Lost the race to another booking; the exemption lets us
				// share the slot and keep their lock.
				appt.Overbooked = true
			case err != nil:
				return err
			}
		}
		return tx.CreateAppointment(ctx, appt)
	})

	switch {
	case errors.Is(err, ErrSlotAlreadyBooked):
		s.metrics.ObserveReservation("conflict")
		span.SetStatus(codes.Error, "slot already booked")
		s.logger.Info().Str("hospital_id", appt.HospitalID).Str("slot_key", key).Msg("slot already booked")
		return nil, ErrSlotAlreadyBooked
	case err != nil:
		s.metrics.ObserveReservation("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		s.logger.Error().Err(err).Str("hospital_id", appt.HospitalID).Str("slot_key", key).Msg("reservation failed")
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	outcome := "created"
	if appt.Overbooked {
		outcome = "overbooked"
	}
	s.metrics.ObserveReservation(outcome)
	s.logger.Info().
		Str("hospital_id", appt.HospitalID).
		Str("appointment_id", appt.ID.String()).
		Str("slot_key", key).
		Bool("overbooked", appt.Overbooked).
		Msg("appointment reserved")

	tpl := notification.TemplateBookingConfirmed
	if appt.Status == StatusWhatsAppPending {
		tpl = notification.TemplateBookingPending
	}
	s.notify(ctx, appt, tpl)

	return appt, nil
}

// buildAppointment validates req and applies defaults. It touches no store.
func buildAppointment(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	p := req.Payload
	hospitalID := db.HospitalFromContext(ctx)
	if hospitalID == "" {
		return nil, invalid("hospitalId", "hospital is required")
	}

	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		return nil, invalid("doctorId", "is required")
	}
	patientID := strings.TrimSpace(p.PatientID)
	if patientID == "" {
		return nil, invalid("patientId", "is required")
	}
	date, err := NormalizeDate(req.Date)
	if err != nil {
		return nil, invalid("date", err.Error())
	}
	clock, err := NormalizeTime(req.Time)
	if err != nil {
		return nil, invalid("time", err.Error())
	}

	apptType := orDefault(p.AppointmentType, TypeRegular)
	if !validTypes[apptType] {
		return nil, invalid("appointmentType", fmt.Sprintf("unknown type %q", apptType))
	}
	if req.OverbookingAllowed && apptType != TypeEmergency && apptType != TypeRecheck {
		return nil, invalid("overbookingAllowed", "only emergency or recheck appointments may overbook")
	}

	status := orDefault(p.Status, StatusConfirmed)
	if status != StatusConfirmed && status != StatusWhatsAppPending {
		return nil, invalid("status", fmt.Sprintf("a new appointment cannot start as %q", status))
	}
	createdBy := orDefault(p.CreatedBy, CreatedByPatient)
	if !validCreatedBy[createdBy] {
		return nil, invalid("createdBy", fmt.Sprintf("unknown value %q", createdBy))
	}
	paymentStatus := orDefault(p.PaymentStatus, PaymentPending)
	if !validPaymentStatuses[paymentStatus] {
		return nil, invalid("paymentStatus", fmt.Sprintf("unknown value %q", paymentStatus))
	}
	if p.PaymentAmount < 0 || p.TotalConsultationFee < 0 {
		return nil, invalid("paymentAmount", "must not be negative")
	}

	return &Appointment{
		PatientID:            patientID,
		PatientName:          p.PatientName,
		PatientPhone:         p.PatientPhone,
		DoctorID:             doctorID,
		DoctorName:           p.DoctorName,
		Specialization:       p.Specialization,
		AppointmentDate:      date,
		AppointmentTime:      clock,
		Status:               status,
		AppointmentType:      apptType,
		PaymentAmount:        p.PaymentAmount,
		TotalConsultationFee: p.TotalConsultationFee,
		PaymentStatus:        paymentStatus,
		PaymentMethod:        p.PaymentMethod,
		CreatedBy:            createdBy,
		ChiefComplaint:       p.ChiefComplaint,
		Medicines:            p.Medicines,
		BranchID:             p.BranchID,
		BranchName:           p.BranchName,
		HospitalID:           hospitalID,
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return s.store.List(ctx, f, limit, offset)
}

// UpdateStatus applies a legal status transition. The slot lock is left in
// place, so a cancelled slot stays taken.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.UpdateStatus")
	defer span.End()

	if !validStatuses[status] {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, status) {
		return nil, invalid("status", fmt.Sprintf("cannot move from %s to %s", current.Status, status))
	}

	updated, err := s.store.UpdateStatus(ctx, id, current.Status, status)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStatusTransition(status)
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", current.Status).
		Str("to", status).
		Msg("appointment status changed")

	switch status {
	case StatusCancelled:
		s.notify(ctx, updated, notification.TemplateBookingCancelled)
	case StatusRescheduled:
		s.notify(ctx, updated, notification.TemplateBookingRescheduled)
	case StatusConfirmed:
		s.notify(ctx, updated, notification.TemplateBookingConfirmed)
	}
	return updated, nil
}

func (s *Service) notify(ctx context.Context, a *Appointment, templateID string) {
	if s.notifier == nil || a.PatientPhone == "" {
		return
	}
	s.notifier.Dispatch(ctx, a.PatientPhone, templateID, map[string]string{
		"patient_name": a.PatientName,
		"doctor_name":  a.DoctorName,
		"date":         a.AppointmentDate,
		"time":         a.AppointmentTime,
		"token":        a.ID.String()[:8],
	})
}

// RenderDocument renders the prescription or invoice of an existing
// appointment.
func (s *Service) RenderDocument(ctx context.Context, id uuid.UUID, kind string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "booking.RenderDocument", trace.WithAttributes(attribute.String("document.kind", kind)))
	defer span.End()

	if kind != DocumentPrescription && kind != DocumentInvoice {
		return nil, invalid("kind", fmt.Sprintf("unknown document %q", kind))
	}
	if s.docs == nil {
		return nil, ErrDocumentsUnavailable
	}
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := documentFor(a, time.Now())
	var out []byte
	if kind == DocumentPrescription {
		out, err = s.docs.Prescription(doc)
	} else {
		out, err = s.docs.Invoice(doc)
	}
	if err != nil {
		s.metrics.ObserveDocument(kind, "error")
		span.RecordError(err)
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}
	s.metrics.ObserveDocument(kind, "ok")
	return out, nil
}

func documentFor(a *Appointment, issued time.Time) pdf.Document {
	fee := a.TotalConsultationFee
	if fee == 0 {
		fee = a.PaymentAmount
	}
	return pdf.Document{
		HospitalName:   a.HospitalID,
		BranchName:     a.BranchName,
		AppointmentID:  a.ID.String(),
		PatientName:    a.PatientName,
		PatientID:      a.PatientID,
		DoctorName:     a.DoctorName,
		Specialization: a.Specialization,
		Date:           a.AppointmentDate,
		Time:           a.AppointmentTime,
		ChiefComplaint: a.ChiefComplaint,
		Medicines:      a.Medicines,
		PaymentStatus:  a.PaymentStatus,
		PaymentMethod:  a.PaymentMethod,
		Items:          []pdf.LineItem{{Description: "Consultation", Amount: decimal.NewFromFloat(fee)}},
		IssuedAt:       issued,
	}
}
