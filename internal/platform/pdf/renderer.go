// Package pdf renders appointment prescriptions and invoices as A4 PDFs.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/signintech/gopdf"
)

const fontFamily = "DejaVu"

// ErrNoFont is returned when none of the candidate font files could be loaded.
var ErrNoFont = errors.New("pdf: no usable TTF font found")

var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// LineItem is one billed entry on an invoice.
type LineItem struct {
	Description string
	Amount      decimal.Decimal
}

// Document carries everything printed on either document kind.
type Document struct {
	HospitalName   string
	BranchName     string
	AppointmentID  string
	PatientName    string
	PatientID      string
	DoctorName     string
	Specialization string
	Date           string
	Time           string
	ChiefComplaint string
	Medicines      string
	PaymentStatus  string
	PaymentMethod  string
	Items          []LineItem
	IssuedAt       time.Time
}

// Total sums the line items.
func (d Document) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.Amount)
	}
	return total
}

type Renderer struct {
	fontPaths []string
}

// NewRenderer tries fontPath first, then the usual DejaVu install locations.
func NewRenderer(fontPath string) *Renderer {
	paths := make([]string, 0, len(defaultFontPaths)+1)
	if fontPath != "" {
		paths = append(paths, fontPath)
	}
	return &Renderer{fontPaths: append(paths, defaultFontPaths...)}
}

func (r *Renderer) start() (*gopdf.GoPdf, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var lastErr error
	for _, path := range r.fontPaths {
		lastErr = pdf.AddTTFFont(fontFamily, path)
		if lastErr == nil {
			return pdf, nil
		}
	}
	return nil, fmt.Errorf("%w (last error: %v)", ErrNoFont, lastErr)
}

// Prescription renders the clinical summary of a visit.
func (r *Renderer) Prescription(doc Document) ([]byte, error) {
	pdf, err := r.start()
	if err != nil {
		return nil, err
	}

	if err := header(pdf, doc, "Prescription"); err != nil {
		return nil, err
	}

	if err := section(pdf, "Chief complaint", orDash(doc.ChiefComplaint)); err != nil {
		return nil, err
	}
	if err := section(pdf, "Medicines", orDash(doc.Medicines)); err != nil {
		return nil, err
	}

	pdf.Br(30)
	if err := pdf.SetFont(fontFamily, "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, doc.DoctorName)
	pdf.Br(14)
	if doc.Specialization != "" {
		pdf.Cell(nil, doc.Specialization)
	}

	return write(pdf)
}

// Invoice renders the billed items and payment state of a visit.
func (r *Renderer) Invoice(doc Document) ([]byte, error) {
	pdf, err := r.start()
	if err != nil {
		return nil, err
	}

	if err := header(pdf, doc, "Invoice"); err != nil {
		return nil, err
	}

	if err := pdf.SetFont(fontFamily, "", 12); err != nil {
		return nil, err
	}
	for _, it := range doc.Items {
		pdf.SetX(40)
		pdf.Cell(nil, it.Description)
		pdf.SetX(450)
		pdf.Cell(nil, FormatMoney(it.Amount))
		pdf.Br(16)
	}
	pdf.Br(8)

	if err := pdf.SetFont(fontFamily, "", 13); err != nil {
		return nil, err
	}
	pdf.SetX(40)
	pdf.Cell(nil, "Total")
	pdf.SetX(450)
	pdf.Cell(nil, FormatMoney(doc.Total()))
	pdf.Br(24)

	if err := pdf.SetFont(fontFamily, "", 11); err != nil {
		return nil, err
	}
	pdf.SetX(40)
	pdf.Cell(nil, fmt.Sprintf("Payment status: %s", orDash(doc.PaymentStatus)))
	pdf.Br(14)
	if doc.PaymentMethod != "" {
		pdf.SetX(40)
		pdf.Cell(nil, fmt.Sprintf("Payment method: %s", doc.PaymentMethod))
	}

	return write(pdf)
}

func header(pdf *gopdf.GoPdf, doc Document, title string) error {
	pdf.SetX(40)
	pdf.SetY(40)
	if err := pdf.SetFont(fontFamily, "", 18); err != nil {
		return err
	}
	name := doc.HospitalName
	if doc.BranchName != "" {
		name += " - " + doc.BranchName
	}
	pdf.Cell(nil, name)
	pdf.Br(26)

	if err := pdf.SetFont(fontFamily, "", 14); err != nil {
		return err
	}
	pdf.SetX(40)
	pdf.Cell(nil, title)
	pdf.Br(22)

	if err := pdf.SetFont(fontFamily, "", 11); err != nil {
		return err
	}
	issued := doc.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	for _, line := range []string{
		fmt.Sprintf("Patient: %s (%s)", doc.PatientName, doc.PatientID),
		fmt.Sprintf("Doctor: %s", doc.DoctorName),
		fmt.Sprintf("Appointment: %s %s", doc.Date, doc.Time),
		fmt.Sprintf("Reference: %s", doc.AppointmentID),
		fmt.Sprintf("Issued: %s", issued.Format("02 Jan 2006 15:04")),
	} {
		pdf.SetX(40)
		pdf.Cell(nil, line)
		pdf.Br(14)
	}
	pdf.Br(12)
	return nil
}

func section(pdf *gopdf.GoPdf, title, body string) error {
	if err := pdf.SetFont(fontFamily, "", 13); err != nil {
		return err
	}
	pdf.SetX(40)
	pdf.Cell(nil, title)
	pdf.Br(16)

	if err := pdf.SetFont(fontFamily, "", 11); err != nil {
		return err
	}
	for _, para := range strings.Split(body, "\n") {
		lines, err := pdf.SplitText(para, 500)
		if err != nil {
			lines = []string{para}
		}
		for _, l := range lines {
			pdf.SetX(40)
			pdf.Cell(nil, l)
			pdf.Br(13)
		}
	}
	pdf.Br(10)
	return nil
}

func write(pdf *gopdf.GoPdf) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatMoney prints an amount with two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
