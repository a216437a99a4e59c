package pdf

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleDocument() Document {
	return Document{
		HospitalName:   "City Care",
		BranchName:     "North",
		AppointmentID:  "a1",
		PatientName:    "Asha",
		PatientID:      "p1",
		DoctorName:     "Dr. Rao",
		Specialization: "General Medicine",
		Date:           "2024-03-04",
		Time:           "10:30",
		ChiefComplaint: "fever and cough",
		Medicines:      "Paracetamol 500mg\nAzithromycin 250mg",
		PaymentStatus:  "paid",
		PaymentMethod:  "upi",
		Items: []LineItem{
			{Description: "Consultation", Amount: decimal.RequireFromString("500.10")},
			{Description: "Registration", Amount: decimal.RequireFromString("49.90")},
		},
		IssuedAt: time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC),
	}
}

func renderOrSkip(t *testing.T, fn func(Document) ([]byte, error)) []byte {
	t.Helper()
	out, err := fn(sampleDocument())
	if errors.Is(err, ErrNoFont) {
		t.Skip("no DejaVu font installed")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestRenderer_Prescription(t *testing.T) {
	out := renderOrSkip(t, NewRenderer("").Prescription)
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Errorf("output is not a PDF")
	}
}

func TestRenderer_Invoice(t *testing.T) {
	out := renderOrSkip(t, NewRenderer("").Invoice)
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Errorf("output is not a PDF")
	}
}

func TestRenderer_MissingFont(t *testing.T) {
	r := &Renderer{fontPaths: []string{"/nonexistent/font.ttf"}}
	if _, err := r.Invoice(sampleDocument()); !errors.Is(err, ErrNoFont) {
		t.Fatalf("expected ErrNoFont, got %v", err)
	}
}

func TestDocument_Total(t *testing.T) {
	if got := FormatMoney(sampleDocument().Total()); got != "550.00" {
		t.Errorf("Total = %s, want 550.00", got)
	}
}

func TestNewRenderer_ConfiguredPathFirst(t *testing.T) {
	r := NewRenderer("/opt/fonts/custom.ttf")
	if r.fontPaths[0] != "/opt/fonts/custom.ttf" || len(r.fontPaths) != len(defaultFontPaths)+1 {
		t.Errorf("unexpected font paths: %v", r.fontPaths)
	}
}
