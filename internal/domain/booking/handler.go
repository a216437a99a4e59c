package booking

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	book := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleReceptionist, auth.RoleDoctor))
	book.POST("/reserve-appointment", h.Reserve)
	book.GET("/appointments", h.ListAppointments)
	book.GET("/appointments/:id", h.GetAppointment)
	book.GET("/appointments/:id/prescription.pdf", h.Prescription)
	book.GET("/appointments/:id/invoice.pdf", h.Invoice)

	staff := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor))
	staff.PATCH("/appointments/:id/status", h.UpdateStatus)
}

type ReserveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// ErrorStatus maps service errors onto an HTTP status and client message. A
// lost slot race is a 409 with the bare SLOT_ALREADY_BOOKED code so clients
// can offer another time.
func ErrorStatus(err error) (int, string) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrSlotAlreadyBooked):
		return http.StatusConflict, ErrSlotAlreadyBooked.Error()
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "appointment not found"
	case errors.Is(err, ErrStatusChanged):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrDocumentsUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "failed to process appointment"
	}
}

func writeError(c echo.Context, err error) error {
	code, msg := ErrorStatus(err)
	return c.JSON(code, errorBody(msg))
}

// ApplyCaller pins patient callers to their own record and fills createdBy
// from the caller's role when the client left it empty.
func ApplyCaller(id auth.Identity, req *ReserveRequest) error {
	if id.IsPatientOnly() {
		if id.PatientID == "" {
			return echo.NewHTTPError(http.StatusForbidden, "account is not linked to a patient")
		}
		if req.Payload.PatientID != "" && req.Payload.PatientID != id.PatientID {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
		}
		if req.OverbookingAllowed {
			return echo.NewHTTPError(http.StatusForbidden, "patients cannot overbook a slot")
		}
		req.Payload.PatientID = id.PatientID
		req.Payload.CreatedBy = CreatedByPatient
		return nil
	}
	if req.Payload.CreatedBy == "" {
		switch {
		case id.HasRole(auth.RoleReceptionist):
			req.Payload.CreatedBy = CreatedByReceptionist
		case id.HasRole(auth.RoleDoctor):
			req.Payload.CreatedBy = CreatedByDoctor
		}
	}
	return nil
}

func (h *Handler) Reserve(c echo.Context) error {
	var req ReserveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	id, _ := auth.IdentityFromContext(c.Request().Context())
	if err := ApplyCaller(id, &req); err != nil {
		return err
	}

	appt, err := h.svc.ReserveAndCreate(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, ReserveResponse{Success: true, ID: appt.ID.String()})
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		DoctorID:  c.QueryParam("doctor_id"),
		PatientID: c.QueryParam("patient_id"),
		Date:      c.QueryParam("date"),
		Status:    c.QueryParam("status"),
		BranchID:  c.QueryParam("branch_id"),
	}
	if id, _ := auth.IdentityFromContext(c.Request().Context()); id.IsPatientOnly() {
		f.PatientID = id.PatientID
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

// loadVisible fetches the appointment in the path, hiding other patients'
// records from patient callers.
func (h *Handler) loadVisible(c echo.Context) (*Appointment, error) {
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, invalid("id", "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), apptID)
	if err != nil {
		return nil, err
	}
	if id, _ := auth.IdentityFromContext(c.Request().Context()); id.IsPatientOnly() && a.PatientID != id.PatientID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.loadVisible(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid id"))
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), apptID, req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Prescription(c echo.Context) error {
	return h.document(c, DocumentPrescription)
}

func (h *Handler) Invoice(c echo.Context) error {
	return h.document(c, DocumentInvoice)
}

func (h *Handler) document(c echo.Context, kind string) error {
	a, err := h.loadVisible(c)
	if err != nil {
		return writeError(c, err)
	}
	out, err := h.svc.RenderDocument(c.Request().Context(), a.ID, kind)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s-%s.pdf"`, kind, a.ID))
	return c.Blob(http.StatusOK, "application/pdf", out)
}
