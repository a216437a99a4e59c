package booking

import (
	"context"

	"github.com/google/uuid"
)

// Tx is the set of reads and writes available inside a reservation
// transaction.
type Tx interface {
	// GetSlotLock returns nil, nil when no lock exists for key.
	GetSlotLock(ctx context.Context, key string) (*SlotLock, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	// ReserveKeyOrFail inserts the lock unless its key is taken, in which
	// case it returns ErrSlotAlreadyBooked.
	ReserveKeyOrFail(ctx context.Context, lock *SlotLock) error
}

type Store interface {
	// WithinTx runs fn atomically. Implementations may re-run fn when the
	// underlying store reports a transient conflict.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus moves id from one status to another and returns
	// ErrStatusChanged if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error)
}
