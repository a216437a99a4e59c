package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (r *storePG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, patient_name, patient_phone, doctor_id, doctor_name,
	specialization, appointment_date, appointment_time, status, appointment_type,
	payment_amount, total_consultation_fee, payment_status, payment_method, created_by,
	chief_complaint, medicines, branch_id, branch_name, hospital_id, overbooked,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientPhone, &a.DoctorID, &a.DoctorName,
		&a.Specialization, &a.AppointmentDate, &a.AppointmentTime, &a.Status, &a.AppointmentType,
		&a.PaymentAmount, &a.TotalConsultationFee, &a.PaymentStatus, &a.PaymentMethod, &a.CreatedBy,
		&a.ChiefComplaint, &a.Medicines, &a.BranchID, &a.BranchName, &a.HospitalID, &a.Overbooked,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// WithinTx runs fn in a serializable transaction on the hospital connection.
func (r *storePG) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	var starter db.TxStarter
	if r.pool != nil {
		starter = r.pool
	}
	return db.WithTx(ctx, starter, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&txPG{tx: tx})
	})
}

type txPG struct{ tx pgx.Tx }

func (t *txPG) GetSlotLock(ctx context.Context, key string) (*SlotLock, error) {
	var l SlotLock
	err := t.tx.QueryRow(ctx, `
		SELECT key, appointment_id, doctor_id, date, time, created_at
		FROM slot_locks WHERE key = $1`, key).
		Scan(&l.Key, &l.AppointmentID, &l.DoctorID, &l.Date, &l.Time, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slot lock: %w", err)
	}
	return &l, nil
}

func (t *txPG) CreateAppointment(ctx context.Context, a *Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, patient_phone, doctor_id, doctor_name,
			specialization, appointment_date, appointment_time, status, appointment_type,
			payment_amount, total_consultation_fee, payment_status, payment_method, created_by,
			chief_complaint, medicines, branch_id, branch_name, hospital_id, overbooked)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.PatientPhone, a.DoctorID, a.DoctorName,
		a.Specialization, a.AppointmentDate, a.AppointmentTime, a.Status, a.AppointmentType,
		a.PaymentAmount, a.TotalConsultationFee, a.PaymentStatus, a.PaymentMethod, a.CreatedBy,
		a.ChiefComplaint, a.Medicines, a.BranchID, a.BranchName, a.HospitalID, a.Overbooked).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *txPG) ReserveKeyOrFail(ctx context.Context, l *SlotLock) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO slot_locks (key, appointment_id, doctor_id, date, time)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key) DO NOTHING`,
		l.Key, l.AppointmentID, l.DoctorID, l.Date, l.Time)
	if db.IsUniqueViolation(err) {
		return ErrSlotAlreadyBooked
	}
	if err != nil {
		return fmt.Errorf("insert slot lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotAlreadyBooked
	}
	return nil
}

func (r *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *storePG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	add := func(col, val string) {
		if val == "" {
			return
		}
		where += fmt.Sprintf(` AND %s = $%d`, col, idx)
		args = append(args, val)
		idx++
	}
	add("doctor_id", f.DoctorID)
	add("patient_id", f.PatientID)
	add("appointment_date", f.Date)
	add("status", f.Status)
	add("branch_id", f.BranchID)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *storePG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, from, to))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusChanged
	}
	return a, err
}
