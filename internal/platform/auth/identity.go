package auth

import "context"

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// Identity is the authenticated caller. Handlers pass it explicitly to the
// services that need to scope data by caller.
type Identity struct {
	UserID     string
	HospitalID string
	Roles      []string
	// PatientID / DoctorID link the account to a patient or doctor record.
	PatientID string
	DoctorID  string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

// IsPatientOnly reports whether the caller acts purely as a patient.
func (i Identity) IsPatientOnly() bool {
	return i.HasRole(RolePatient) && !i.IsAdmin() && !i.HasRole(RoleDoctor) && !i.HasRole(RoleReceptionist)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RolesFromContext(ctx context.Context) []string {
	id, _ := IdentityFromContext(ctx)
	return id.Roles
}
