package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/booking"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

type fakeReserver struct {
	got      booking.ReserveRequest
	hospital string
	err      error
	calls    int
}

func (f *fakeReserver) ReserveAndCreate(ctx context.Context, req booking.ReserveRequest) (*booking.Appointment, error) {
	f.calls++
	f.got = req
	f.hospital = db.HospitalFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &booking.Appointment{ID: uuid.MustParse("11111111-2222-3333-4444-555555555555")}, nil
}

func newTestHandler(svc reserver, id auth.Identity) *handler {
	return &handler{
		svc: svc,
		verify: func(h string) (auth.Identity, error) {
			if h == "" {
				return auth.Identity{}, auth.ErrMissingToken
			}
			return id, nil
		},
		scope: func(ctx context.Context, hospitalID string) (context.Context, func(), error) {
			return db.WithHospital(ctx, hospitalID), func() {}, nil
		},
		defaultHospital: "default",
		logger:          zerolog.Nop(),
		now:             func() time.Time { return time.Date(2024, 6, 12, 10, 30, 0, 0, time.UTC) },
	}
}

func post(path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       path,
		Headers:    map[string]string{"authorization": "Bearer token"},
		Body:       body,
	}
}

const reserveBody = `{"doctorId":"D1","date":"2024-06-20","time":"10:00","payload":{"patientId":"P1","patientName":"Asha"}}`

func decodeError(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body, err)
	}
	return body["error"]
}

func TestHandle_ReserveCreated(t *testing.T) {
	svc := &fakeReserver{}
	h := newTestHandler(svc, auth.Identity{UserID: "r1", Roles: []string{auth.RoleReceptionist}, HospitalID: "city"})

	resp, err := h.Handle(context.Background(), post("/reserve-appointment", reserveBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}
	var out booking.ReserveResponse
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.ID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("unexpected response %+v", out)
	}
	if svc.hospital != "city" {
		t.Errorf("expected hospital from token claim, got %q", svc.hospital)
	}
	if svc.got.Payload.CreatedBy != booking.CreatedByReceptionist {
		t.Errorf("expected createdBy receptionist, got %q", svc.got.Payload.CreatedBy)
	}
}

func TestHandle_ReserveConflict(t *testing.T) {
	svc := &fakeReserver{err: booking.ErrSlotAlreadyBooked}
	h := newTestHandler(svc, auth.Identity{Roles: []string{auth.RoleDoctor}})

	resp, _ := h.Handle(context.Background(), post("/api/v1/reserve-appointment", reserveBody))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := decodeError(t, resp); got != "SLOT_ALREADY_BOOKED" {
		t.Errorf("expected SLOT_ALREADY_BOOKED, got %q", got)
	}
}

func TestHandle_ReserveWriteFailure(t *testing.T) {
	svc := &fakeReserver{err: errors.New("connection reset")}
	h := newTestHandler(svc, auth.Identity{Roles: []string{auth.RoleDoctor}})

	resp, _ := h.Handle(context.Background(), post("/reserve-appointment", reserveBody))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if got := decodeError(t, resp); got != "failed to process appointment" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestHandle_HospitalFromHeaderThenDefault(t *testing.T) {
	svc := &fakeReserver{}
	h := newTestHandler(svc, auth.Identity{Roles: []string{auth.RoleReceptionist}})

	req := post("/reserve-appointment", reserveBody)
	req.Headers["X-Hospital-ID"] = "north"
	h.Handle(context.Background(), req)
	if svc.hospital != "north" {
		t.Errorf("expected header hospital, got %q", svc.hospital)
	}

	h.Handle(context.Background(), post("/reserve-appointment", reserveBody))
	if svc.hospital != "default" {
		t.Errorf("expected default hospital, got %q", svc.hospital)
	}
}

func TestHandle_InvalidHospital(t *testing.T) {
	svc := &fakeReserver{}
	h := newTestHandler(svc, auth.Identity{Roles: []string{auth.RoleReceptionist}, HospitalID: "bad-id;"})

	resp, _ := h.Handle(context.Background(), post("/reserve-appointment", reserveBody))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if svc.calls != 0 {
		t.Error("service must not be called")
	}
}

func TestHandle_Unauthenticated(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{})
	req := post("/reserve-appointment", reserveBody)
	req.Headers = nil

	resp, _ := h.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandle_PatientCannotBookForOthers(t *testing.T) {
	svc := &fakeReserver{}
	h := newTestHandler(svc, auth.Identity{Roles: []string{auth.RolePatient}, PatientID: "P9"})

	resp, _ := h.Handle(context.Background(), post("/reserve-appointment", reserveBody))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if svc.calls != 0 {
		t.Error("service must not be called")
	}
}

func TestHandle_BadBody(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RoleDoctor}})
	resp, _ := h.Handle(context.Background(), post("/reserve-appointment", "{"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandle_UnknownPathAndMethod(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RoleAdmin}})

	resp, _ := h.Handle(context.Background(), post("/nope", "{}"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	req := post("/reserve-appointment", reserveBody)
	req.HTTPMethod = http.MethodGet
	resp, _ = h.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandle_ComputeDashboard(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RoleAdmin}})
	body := `{"range":"30d","records":[
		{"id":"a1","doctorId":"D1","patientId":"P1","appointmentDate":"2024-06-10","status":"completed","paymentStatus":"paid","paymentAmount":"500"},
		{"id":"a2","doctorId":"D1","patientId":"P2","appointmentDate":"2024-06-11","status":"completed","paymentStatus":"paid","totalConsultationFee":200},
		{"doctorId":"D2"}
	]}`

	resp, _ := h.Handle(context.Background(), post("/analytics/compute", body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	var dash struct {
		Records  int `json:"records"`
		Rejected int `json:"rejected"`
		Revenue  struct {
			Weekly  float64 `json:"weekly"`
			AllTime float64 `json:"allTime"`
		} `json:"revenue"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &dash); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dash.Records != 2 || dash.Rejected != 1 {
		t.Errorf("expected 2 records and 1 rejected, got %d/%d", dash.Records, dash.Rejected)
	}
	if dash.Revenue.AllTime != 700 || dash.Revenue.Weekly != 700 {
		t.Errorf("expected revenue 700, got %+v", dash.Revenue)
	}
}

func TestHandle_ComputeBadRange(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RoleReceptionist}})
	resp, _ := h.Handle(context.Background(), post("/analytics/compute", `{"range":"2w"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandle_ComputeUnlinkedDoctor(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RoleDoctor}})
	resp, _ := h.Handle(context.Background(), post("/analytics/compute", `{}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHandle_ComputePatientForbidden(t *testing.T) {
	h := newTestHandler(&fakeReserver{}, auth.Identity{Roles: []string{auth.RolePatient}, PatientID: "P1"})
	resp, _ := h.Handle(context.Background(), post("/analytics/compute", `{}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}
