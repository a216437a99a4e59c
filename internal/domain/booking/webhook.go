package booking

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// WebhookTokenHeader carries the shared secret of the WhatsApp booking bot.
const WebhookTokenHeader = "X-Webhook-Token"

// whatsAppBooking is the payload posted by the WhatsApp booking flow once a
// patient has picked a doctor and slot.
type whatsAppBooking struct {
	DoctorID       string `json:"doctorId"`
	DoctorName     string `json:"doctorName"`
	Specialization string `json:"specialization"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PatientID      string `json:"patientId"`
	PatientName    string `json:"patientName"`
	PatientPhone   string `json:"patientPhone"`
	ChiefComplaint string `json:"chiefComplaint"`
	BranchID       string `json:"branchId"`
	BranchName     string `json:"branchName"`
}

type WebhookHandler struct {
	svc   *Service
	token string
}

func NewWebhookHandler(svc *Service, token string) *WebhookHandler {
	return &WebhookHandler{svc: svc, token: token}
}

// RegisterRoutes mounts the bot endpoint. g must already resolve the
// hospital; the bot authenticates with the shared token instead of a JWT.
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/whatsapp/bookings", h.Book)
}

func (h *WebhookHandler) authorized(c echo.Context) bool {
	if h.token == "" {
		return false
	}
	got := c.Request().Header.Get(WebhookTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// Book reserves the slot on behalf of the bot. The appointment waits in
// whatsapp_pending until the clinic confirms it.
func (h *WebhookHandler) Book(c echo.Context) error {
	if !h.authorized(c) {
		return c.JSON(http.StatusUnauthorized, errorBody("invalid webhook token"))
	}
	var in whatsAppBooking
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	patientID := in.PatientID
	if patientID == "" {
		patientID = in.PatientPhone
	}

	appt, err := h.svc.ReserveAndCreate(c.Request().Context(), ReserveRequest{
		DoctorID: in.DoctorID,
		Date:     in.Date,
		Time:     in.Time,
		Payload: Payload{
			PatientID:       patientID,
			PatientName:     in.PatientName,
			PatientPhone:    in.PatientPhone,
			DoctorName:      in.DoctorName,
			Specialization:  in.Specialization,
			Status:          StatusWhatsAppPending,
			AppointmentType: TypeRegular,
			CreatedBy:       CreatedByWhatsAppFlow,
			ChiefComplaint:  in.ChiefComplaint,
			BranchID:        in.BranchID,
			BranchName:      in.BranchName,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, ReserveResponse{Success: true, ID: appt.ID.String()})
}
