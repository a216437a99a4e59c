package analytics

import (
	"context"

	"github.com/hms/hms/internal/domain/booking"
)

// Repository reads the hospital's data for reporting. Implementations are
// scoped to the hospital carried by ctx.
type Repository interface {
	// ListAppointments returns every appointment, or only those of doctorID
	// when it is non-empty.
	ListAppointments(ctx context.Context, doctorID string) ([]booking.Appointment, error)
	ListReceptionists(ctx context.Context) ([]Receptionist, error)
}
