package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/pdf"
)

type notifyCall struct {
	to, template string
	data         map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Dispatch(_ context.Context, to, templateID string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{to: to, template: templateID, data: data})
}

func (n *recordingNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type fakeRenderer struct {
	last pdf.Document
	err  error
}

func (r *fakeRenderer) Prescription(doc pdf.Document) ([]byte, error) {
	r.last = doc
	return []byte("%PDF-prescription"), r.err
}

func (r *fakeRenderer) Invoice(doc pdf.Document) ([]byte, error) {
	r.last = doc
	return []byte("%PDF-invoice"), r.err
}

type testEnv struct {
	svc      *Service
	store    *memStore
	notifier *recordingNotifier
	docs     *fakeRenderer
	metrics  *metrics.Collector
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		docs:     &fakeRenderer{},
		metrics:  metrics.NewCollector("hms_test"),
	}
	env.svc = NewService(env.store, env.notifier, env.docs, env.metrics, zerolog.New(io.Discard))
	return env
}

func newTestService() *Service {
	return newTestEnv().svc
}

func hospitalCtx() context.Context {
	return db.WithHospital(context.Background(), "h1")
}

func slotRequest(doctorID, date, clock string) ReserveRequest {
	return ReserveRequest{
		DoctorID: doctorID,
		Date:     date,
		Time:     clock,
		Payload: Payload{
			PatientID:    "P1",
			PatientName:  "Asha",
			PatientPhone: "+919800000001",
			DoctorName:   "Dr. Rao",
		},
	}
}

func TestReserve_CreatesAppointmentAndLock(t *testing.T) {
	env := newTestEnv()

	appt, err := env.svc.ReserveAndCreate(hospitalCtx(), slotRequest("D1", "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if appt.Status != StatusConfirmed || appt.CreatedBy != CreatedByPatient || appt.PaymentStatus != PaymentPending {
		t.Errorf("defaults not applied: %+v", appt)
	}
	if appt.HospitalID != "h1" || appt.Overbooked {
		t.Errorf("unexpected appointment: %+v", appt)
	}

	lock := env.store.lock("D1_2024-06-01_1000")
	if lock == nil || lock.AppointmentID != appt.ID {
		t.Fatalf("expected lock pointing at %s, got %+v", appt.ID, lock)
	}
	if got := testutil.ToFloat64(env.metrics.ReservationsTotal.WithLabelValues("created")); got != 1 {
		t.Errorf("created counter = %v", got)
	}
}

func TestReserve_SecondCallerConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	if _, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected ErrSlotAlreadyBooked, got %v", err)
	}
	if env.store.apptCount() != 1 {
		t.Errorf("expected 1 appointment, got %d", env.store.apptCount())
	}
}

func TestReserve_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	const callers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := slotRequest("D1", "2024-06-01", "10:00")
			req.Payload.PatientID = fmt.Sprintf("P%d", i)
			_, err := env.svc.ReserveAndCreate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != callers-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", callers-1, successes, conflicts)
	}
	if env.store.lockCount() != 1 || env.store.apptCount() != 1 {
		t.Errorf("expected 1 lock and 1 appointment, got %d and %d", env.store.lockCount(), env.store.apptCount())
	}
}

func TestReserve_NormalizedTimesShareSlot(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	if _, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "9:5")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "09:05"))
	if !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected conflict for normalized-equal time, got %v", err)
	}
}

func TestReserve_DifferentSlotsIndependent(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	for _, req := range []ReserveRequest{
		slotRequest("D1", "2024-06-01", "10:00"),
		slotRequest("D1", "2024-06-01", "10:30"),
		slotRequest("D2", "2024-06-01", "10:00"),
		slotRequest("D1", "2024-06-02", "10:00"),
	} {
		if _, err := env.svc.ReserveAndCreate(ctx, req); err != nil {
			t.Errorf("booking %+v: %v", req, err)
		}
	}
	if env.store.lockCount() != 4 {
		t.Errorf("expected 4 locks, got %d", env.store.lockCount())
	}
}

func TestReserve_RecheckOverbooksOccupiedSlot(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	first, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}

	req := slotRequest("D1", "2024-06-01", "10:00")
	req.OverbookingAllowed = true
	req.Payload.AppointmentType = TypeRecheck
	second, err := env.svc.ReserveAndCreate(ctx, req)
	if err != nil {
		t.Fatalf("recheck booking: %v", err)
	}

	if second.ID == first.ID {
		t.Error("expected distinct appointment ids")
	}
	if !second.Overbooked {
		t.Error("expected second appointment to be marked overbooked")
	}
	if env.store.lockCount() != 1 {
		t.Errorf("expected a single lock, got %d", env.store.lockCount())
	}
	if lock := env.store.lock("D1_2024-06-01_1000"); lock.AppointmentID != first.ID {
		t.Errorf("lock should still reference the first appointment, got %s", lock.AppointmentID)
	}
	if got := testutil.ToFloat64(env.metrics.ReservationsTotal.WithLabelValues("overbooked")); got != 1 {
		t.Errorf("overbooked counter = %v", got)
	}
}

func TestReserve_ConcurrentEmergencyBookings(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := slotRequest("D1", "2024-06-01", "10:00")
			req.OverbookingAllowed = true
			req.Payload.AppointmentType = TypeEmergency
			a, err := env.svc.ReserveAndCreate(ctx, req)
			errs[i] = err
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
	}
	if ids[0] == ids[1] {
		t.Error("expected distinct ids")
	}
	if env.store.lockCount() != 1 || env.store.apptCount() != 2 {
		t.Errorf("expected 1 lock and 2 appointments, got %d and %d", env.store.lockCount(), env.store.apptCount())
	}
}

func TestReserve_OverbookingLostRaceKeepsWinnerLock(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	winner, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}

	env.store.blindLocks = true
	req := slotRequest("D1", "2024-06-01", "10:00")
	req.OverbookingAllowed = true
	req.Payload.AppointmentType = TypeEmergency
	a, err := env.svc.ReserveAndCreate(ctx, req)
	if err != nil {
		t.Fatalf("exempt booking after lost race: %v", err)
	}
	if !a.Overbooked {
		t.Error("expected appointment to be marked overbooked")
	}
	if lock := env.store.lock("D1_2024-06-01_1000"); lock.AppointmentID != winner.ID {
		t.Error("winner's lock was replaced")
	}
}

func TestReserve_LostRaceWithoutExemptionConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	if _, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	env.store.blindLocks = true
	_, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected conflict from compare-and-set, got %v", err)
	}
	if env.store.apptCount() != 1 {
		t.Errorf("losing transaction must not persist its appointment")
	}
}

func TestReserve_Validation(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		mutate func(*ReserveRequest)
		field  string
	}{
		{"missing hospital", context.Background(), func(r *ReserveRequest) {}, "hospitalId"},
		{"missing doctor", nil, func(r *ReserveRequest) { r.DoctorID = " " }, "doctorId"},
		{"missing patient", nil, func(r *ReserveRequest) { r.Payload.PatientID = "" }, "patientId"},
		{"bad date", nil, func(r *ReserveRequest) { r.Date = "2024-13-01" }, "date"},
		{"bad time", nil, func(r *ReserveRequest) { r.Time = "25:00" }, "time"},
		{"regular overbooking", nil, func(r *ReserveRequest) { r.OverbookingAllowed = true }, "overbookingAllowed"},
		{"unknown type", nil, func(r *ReserveRequest) { r.Payload.AppointmentType = "vip" }, "appointmentType"},
		{"completed at creation", nil, func(r *ReserveRequest) { r.Payload.Status = StatusCompleted }, "status"},
		{"unknown status", nil, func(r *ReserveRequest) { r.Payload.Status = "booked" }, "status"},
		{"unknown creator", nil, func(r *ReserveRequest) { r.Payload.CreatedBy = "robot" }, "createdBy"},
		{"unknown payment status", nil, func(r *ReserveRequest) { r.Payload.PaymentStatus = "maybe" }, "paymentStatus"},
		{"negative amount", nil, func(r *ReserveRequest) { r.Payload.PaymentAmount = -1 }, "paymentAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			ctx := tt.ctx
			if ctx == nil {
				ctx = hospitalCtx()
			}
			req := slotRequest("D1", "2024-06-01", "10:00")
			tt.mutate(&req)

			_, err := env.svc.ReserveAndCreate(ctx, req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if env.store.txRuns != 0 {
				t.Error("validation must happen before the transaction")
			}
		})
	}
}

func TestReserve_WriteFailure(t *testing.T) {
	env := newTestEnv()
	env.store.failCreate = errors.New("disk full")

	_, err := env.svc.ReserveAndCreate(hospitalCtx(), slotRequest("D1", "2024-06-01", "10:00"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if errors.Is(err, ErrSlotAlreadyBooked) {
		t.Error("write failure must not look like a conflict")
	}
	if env.store.lockCount() != 0 {
		t.Error("lock must roll back with the failed appointment")
	}
	if len(env.notifier.Calls()) != 0 {
		t.Error("no notification on failure")
	}
}

func TestReserve_NotifiesPatient(t *testing.T) {
	env := newTestEnv()

	appt, err := env.svc.ReserveAndCreate(hospitalCtx(), slotRequest("D1", "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := env.notifier.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0].to != "+919800000001" || calls[0].template != notification.TemplateBookingConfirmed {
		t.Errorf("unexpected notification: %+v", calls[0])
	}
	if calls[0].data["token"] != appt.ID.String()[:8] || calls[0].data["time"] != "10:00" {
		t.Errorf("unexpected template data: %v", calls[0].data)
	}
}

func TestReserve_NoPhoneNoNotification(t *testing.T) {
	env := newTestEnv()
	req := slotRequest("D1", "2024-06-01", "10:00")
	req.Payload.PatientPhone = ""

	if _, err := env.svc.ReserveAndCreate(hospitalCtx(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.notifier.Calls()) != 0 {
		t.Error("expected no notification without a phone number")
	}
}

func TestReserve_NotifierNotRequired(t *testing.T) {
	svc := NewService(newMemStore(), nil, nil, nil, zerolog.New(io.Discard))
	if _, err := svc.ReserveAndCreate(hospitalCtx(), slotRequest("D1", "2024-06-01", "10:00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusRescheduled, true},
		{StatusConfirmed, StatusNotAttended, true},
		{StatusWhatsAppPending, StatusConfirmed, true},
		{StatusWhatsAppPending, StatusCancelled, true},
		{StatusWhatsAppPending, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestUpdateStatus_CancelKeepsSlotLock(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	appt, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	updated, err := env.svc.UpdateStatus(ctx, appt.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Errorf("status = %s", updated.Status)
	}
	if env.store.lockCount() != 1 {
		t.Error("cancellation must not release the slot lock")
	}
	if _, err := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00")); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Errorf("expected cancelled slot to stay taken, got %v", err)
	}

	calls := env.notifier.Calls()
	if last := calls[len(calls)-1]; last.template != notification.TemplateBookingCancelled {
		t.Errorf("expected cancellation notice, got %s", last.template)
	}
	if got := testutil.ToFloat64(env.metrics.StatusTransitions.WithLabelValues(StatusCancelled)); got != 1 {
		t.Errorf("transition counter = %v", got)
	}
}

func TestUpdateStatus_Illegal(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()
	appt, _ := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	if _, err := env.svc.UpdateStatus(ctx, appt.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := env.svc.UpdateStatus(ctx, appt.ID, StatusCancelled)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateStatus_UnknownStatusAndMissing(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()

	var verr *ValidationError
	if _, err := env.svc.UpdateStatus(ctx, uuid.New(), "archived"); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, uuid.New(), StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAppointments_Filter(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()
	env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))
	env.svc.ReserveAndCreate(ctx, slotRequest("D2", "2024-06-01", "10:00"))

	items, total, err := env.svc.ListAppointments(ctx, Filter{DoctorID: "D2"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].DoctorID != "D2" {
		t.Errorf("unexpected result: total=%d items=%v", total, items)
	}

	var verr *ValidationError
	if _, _, err := env.svc.ListAppointments(ctx, Filter{Status: "bogus"}, 10, 0); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for bad status filter, got %v", err)
	}
}

func TestRenderDocument(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()
	req := slotRequest("D1", "2024-06-01", "10:00")
	req.Payload.TotalConsultationFee = 500
	req.Payload.Medicines = "Paracetamol"
	appt, _ := env.svc.ReserveAndCreate(ctx, req)

	out, err := env.svc.RenderDocument(ctx, appt.ID, DocumentInvoice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "%PDF-invoice" {
		t.Errorf("unexpected output %q", out)
	}
	if pdf.FormatMoney(env.docs.last.Total()) != "500.00" {
		t.Errorf("invoice total = %s", env.docs.last.Total())
	}
	if env.docs.last.Medicines != "Paracetamol" {
		t.Errorf("medicines not carried into document")
	}
	if got := testutil.ToFloat64(env.metrics.DocumentsRendered.WithLabelValues(DocumentInvoice, "ok")); got != 1 {
		t.Errorf("document counter = %v", got)
	}
}

func TestRenderDocument_Errors(t *testing.T) {
	env := newTestEnv()
	ctx := hospitalCtx()
	appt, _ := env.svc.ReserveAndCreate(ctx, slotRequest("D1", "2024-06-01", "10:00"))

	var verr *ValidationError
	if _, err := env.svc.RenderDocument(ctx, appt.ID, "xray"); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for unknown kind, got %v", err)
	}

	env.docs.err = errors.New("font missing")
	if _, err := env.svc.RenderDocument(ctx, appt.ID, DocumentPrescription); err == nil {
		t.Error("expected renderer error")
	}

	noDocs := NewService(env.store, nil, nil, nil, zerolog.New(io.Discard))
	if _, err := noDocs.RenderDocument(ctx, appt.ID, DocumentInvoice); !errors.Is(err, ErrDocumentsUnavailable) {
		t.Errorf("expected ErrDocumentsUnavailable, got %v", err)
	}
}
