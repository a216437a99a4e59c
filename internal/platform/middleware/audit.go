package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// AuditEntry records who touched which appointment or report, and how.
type AuditEntry struct {
	UserID        string
	UserRoles     []string
	HospitalID    string
	Resource      string
	AppointmentID string
	Action        string // read, create, update, delete
	IPAddress     string
	UserAgent     string
	Path          string
	Method        string
	Timestamp     time.Time
	RequestID     string
	StatusCode    int
}

// AuditRecorder persists audit entries. The middleware always logs; a
// recorder is optional.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after the handler has run, so the entry
// carries the final status code.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			entry := AuditEntry{
				Timestamp:     time.Now().UTC(),
				Path:          path,
				Method:        req.Method,
				IPAddress:     c.RealIP(),
				UserAgent:     req.UserAgent(),
				StatusCode:    status,
				Action:        httpMethodToAction(req.Method),
				Resource:      extractResource(path),
				AppointmentID: extractAppointmentID(path),
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.HospitalID, _ = c.Get("hospital_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("hospital_id", entry.HospitalID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("appointment_id", entry.AppointmentID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/:
//
//	/api/v1/appointments/123/status -> appointments
//	/api/v1/reserve-appointment     -> reserve-appointment
//	/api/v1/analytics/trends        -> analytics
func extractResource(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/api/v1/"), "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

func extractAppointmentID(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/appointments/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
