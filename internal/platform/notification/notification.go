// Package notification renders booking messages and delivers them through a
// Sender, off the request path.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/metrics"
)

const (
	TemplateBookingConfirmed   = "booking-confirmed"
	TemplateBookingPending     = "booking-pending"
	TemplateBookingCancelled   = "booking-cancelled"
	TemplateBookingRescheduled = "booking-rescheduled"
)

// Sender delivers a rendered message to a recipient (a phone number for the
// WhatsApp sender).
type Sender interface {
	SendNotification(ctx context.Context, to, message string) error
}

type SenderFunc func(ctx context.Context, to, message string) error

func (f SenderFunc) SendNotification(ctx context.Context, to, message string) error {
	return f(ctx, to, message)
}

// Template is a message body with {{key}} placeholders.
type Template struct {
	ID   string
	Name string
	Body string
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the booking templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   TemplateBookingConfirmed,
			Name: "Booking Confirmed",
			Body: "Hello {{patient_name}}, your appointment with {{doctor_name}} is confirmed for {{date}} at {{time}}. Token: {{token}}.",
		},
		{
			ID:   TemplateBookingPending,
			Name: "Booking Pending",
			Body: "Hello {{patient_name}}, we received your request for {{date}} at {{time}} with {{doctor_name}}. The clinic will confirm shortly.",
		},
		{
			ID:   TemplateBookingCancelled,
			Name: "Booking Cancelled",
			Body: "Hello {{patient_name}}, your appointment on {{date}} at {{time}} with {{doctor_name}} has been cancelled.",
		},
		{
			ID:   TemplateBookingRescheduled,
			Name: "Booking Rescheduled",
			Body: "Hello {{patient_name}}, your appointment with {{doctor_name}} on {{date}} at {{time}} has been rescheduled. The clinic will share the new time.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render substitutes data into the template body. Placeholders without a value
// are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// LogSender stands in when no delivery channel is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendNotification(_ context.Context, to, message string) error {
	s.Logger.Info().Str("to", to).Int("length", len(message)).Msg("notification channel not configured, message dropped")
	return nil
}

// Call records a single SendNotification call on MockSender.
type Call struct {
	To      string
	Message string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *MockSender) SendNotification(_ context.Context, to, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Message: message})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

const defaultSendTimeout = 15 * time.Second

// Dispatcher sends notifications asynchronously. Delivery failures are
// logged and counted; callers never see them.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	metrics   *metrics.Collector
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(sender Sender, templates *TemplateEngine, logger zerolog.Logger, col *metrics.Collector) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		logger:    logger.With().Str("component", "notification").Logger(),
		metrics:   col,
		timeout:   defaultSendTimeout,
	}
}

// Dispatch renders templateID and hands the message to the sender on its own
// goroutine. The send outlives ctx's cancellation but not its values.
func (d *Dispatcher) Dispatch(ctx context.Context, to, templateID string, data map[string]string) {
	if d == nil || d.sender == nil {
		return
	}
	if strings.TrimSpace(to) == "" {
		d.metrics.ObserveNotification(templateID, "skipped")
		return
	}

	msg, err := d.templates.Render(templateID, data)
	if err != nil {
		d.logger.Error().Err(err).Str("template", templateID).Msg("rendering notification")
		d.metrics.ObserveNotification(templateID, "error")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.SendNotification(sendCtx, to, msg); err != nil {
			d.logger.Warn().Err(err).Str("template", templateID).Msg("notification delivery failed")
			d.metrics.ObserveNotification(templateID, "failed")
			return
		}
		d.metrics.ObserveNotification(templateID, "sent")
	}()
}

// Wait blocks until all in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
