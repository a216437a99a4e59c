package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/booking"
	"github.com/hms/hms/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// Only the columns the reports read.
const reportCols = `id, patient_id, doctor_id, doctor_name, specialization,
	appointment_date, appointment_time, status, payment_amount, total_consultation_fee,
	payment_status, created_by, chief_complaint, medicines, branch_id`

func (r *repoPG) ListAppointments(ctx context.Context, doctorID string) ([]booking.Appointment, error) {
	query := `SELECT ` + reportCols + ` FROM appointments`
	var args []interface{}
	if doctorID != "" {
		query += ` WHERE doctor_id = $1`
		args = append(args, doctorID)
	}
	query += ` ORDER BY appointment_date, appointment_time`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []booking.Appointment
	for rows.Next() {
		var a booking.Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DoctorName, &a.Specialization,
			&a.AppointmentDate, &a.AppointmentTime, &a.Status, &a.PaymentAmount, &a.TotalConsultationFee,
			&a.PaymentStatus, &a.CreatedBy, &a.ChiefComplaint, &a.Medicines, &a.BranchID); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) ListReceptionists(ctx context.Context) ([]Receptionist, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, branch_id, active FROM receptionists ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query receptionists: %w", err)
	}
	defer rows.Close()

	var out []Receptionist
	for rows.Next() {
		var rc Receptionist
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.BranchID, &rc.Active); err != nil {
			return nil, fmt.Errorf("scan receptionist: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
