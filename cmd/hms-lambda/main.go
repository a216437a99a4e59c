// Command hms-lambda serves slot reservation and ad-hoc dashboard
// computation behind API Gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/analytics"
	"github.com/hms/hms/internal/domain/booking"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/pdf"
)

type reserver interface {
	ReserveAndCreate(ctx context.Context, req booking.ReserveRequest) (*booking.Appointment, error)
}

// scopeFunc attaches a hospital-scoped connection to ctx.
type scopeFunc func(ctx context.Context, hospitalID string) (context.Context, func(), error)

type handler struct {
	svc             reserver
	verify          func(header string) (auth.Identity, error)
	scope           scopeFunc
	defaultHospital string
	logger          zerolog.Logger
	now             func() time.Time
	// flush waits for background notifications before the invocation
	// returns and the sandbox is frozen.
	flush           func()
}

type computeRequest struct {
	Range         string                   `json:"range"`
	BranchID      string                   `json:"branchId"`
	DoctorID      string                   `json:"doctorId"`
	Records       []map[string]any         `json:"records"`
	Receptionists []analytics.Receptionist `json:"receptionists"`
}

func (h *handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod != http.MethodPost {
		return respondError(http.StatusMethodNotAllowed, "method not allowed"), nil
	}

	if h.flush != nil {
		defer h.flush()
	}

	id, err := h.verify(header(req, "Authorization"))
	if err != nil {
		return respondError(http.StatusUnauthorized, err.Error()), nil
	}

	switch strings.TrimSuffix(req.Path, "/") {
	case "/reserve-appointment", "/api/v1/reserve-appointment":
		return h.reserve(ctx, req, id), nil
	case "/analytics/compute", "/api/v1/analytics/compute":
		return h.compute(req, id), nil
	default:
		return respondError(http.StatusNotFound, "not found"), nil
	}
}

func (h *handler) reserve(ctx context.Context, req events.APIGatewayProxyRequest, id auth.Identity) events.APIGatewayProxyResponse {
	if !allowed(id, auth.RolePatient, auth.RoleReceptionist, auth.RoleDoctor) {
		return respondError(http.StatusForbidden, "required role: patient or receptionist or doctor")
	}

	var body booking.ReserveRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "invalid request body")
	}
	if err := booking.ApplyCaller(id, &body); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, _ := he.Message.(string)
			return respondError(he.Code, msg)
		}
		return respondError(http.StatusForbidden, err.Error())
	}

	hospitalID := id.HospitalID
	if hospitalID == "" {
		hospitalID = header(req, "X-Hospital-ID")
	}
	if hospitalID == "" {
		hospitalID = h.defaultHospital
	}
	if !db.ValidHospitalID(hospitalID) {
		return respondError(http.StatusBadRequest, "invalid hospital identifier")
	}

	ctx, release, err := h.scope(ctx, hospitalID)
	if err != nil {
		h.logger.Error().Err(err).Str("hospital_id", hospitalID).Msg("hospital resolution failed")
		if errors.Is(err, db.ErrNoConnection) {
			return respondError(http.StatusServiceUnavailable, "database unavailable")
		}
		return respondError(http.StatusInternalServerError, "hospital resolution failed")
	}
	defer release()

	appt, err := h.svc.ReserveAndCreate(ctx, body)
	if err != nil {
		code, msg := booking.ErrorStatus(err)
		return respondError(code, msg)
	}
	return respond(http.StatusCreated, booking.ReserveResponse{Success: true, ID: appt.ID.String()})
}

// compute aggregates records supplied in the request body. Nothing is read
// from or written to the database.
func (h *handler) compute(req events.APIGatewayProxyRequest, id auth.Identity) events.APIGatewayProxyResponse {
	if !allowed(id, auth.RoleReceptionist, auth.RoleDoctor) {
		return respondError(http.StatusForbidden, "required role: receptionist or doctor")
	}

	var body computeRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "invalid request body")
	}
	rng, err := analytics.ParseTimeRange(body.Range)
	if err != nil {
		return respondError(http.StatusBadRequest, err.Error())
	}
	q := analytics.Query{Range: rng, BranchID: body.BranchID, DoctorID: body.DoctorID}
	if !id.IsAdmin() && !id.HasRole(auth.RoleReceptionist) {
		if id.DoctorID == "" {
			return respondError(http.StatusForbidden, "account is not linked to a doctor")
		}
		q.DoctorID = id.DoctorID
	}

	records, rejected := analytics.ParseRawRecords(body.Records)
	dash := analytics.Compute(records, body.Receptionists, q, h.now())
	dash.Rejected = rejected
	if rejected > 0 {
		h.logger.Warn().Int("rejected", rejected).Msg("skipped malformed records")
	}
	return respond(http.StatusOK, dash)
}

func allowed(id auth.Identity, roles ...string) bool {
	if id.IsAdmin() {
		return true
	}
	for _, r := range roles {
		if id.HasRole(r) {
			return true
		}
	}
	return false
}

// header looks name up case-insensitively; API Gateway preserves the
// client's casing.
func header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(code int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: code,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func respondError(code int, msg string) events.APIGatewayProxyResponse {
	return respond(code, map[string]string{"error": msg})
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("runtime", "lambda").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience, JWKSURL: cfg.AuthJWKSURL}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	// No scrape endpoint in Lambda, so metrics are disabled.
	dispatcher := notification.NewDispatcher(notification.LogSender{Logger: logger}, notification.NewTemplateEngine(), logger, nil)
	svc := booking.NewService(booking.NewStorePG(pool), dispatcher, pdf.NewRenderer(cfg.PDFFontPath), nil, logger)

	h := &handler{
		svc:    svc,
		verify: auth.NewVerifier(jwtCfg).Verify,
		scope: func(ctx context.Context, hospitalID string) (context.Context, func(), error) {
			return db.AcquireHospital(ctx, pool, hospitalID)
		},
		defaultHospital: cfg.DefaultHospital,
		logger:          logger,
		now:             time.Now,
		flush:           dispatcher.Wait,
	}
	lambda.Start(h.Handle)
}
