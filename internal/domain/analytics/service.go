package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/tracing"
)

// Query scopes a report. DoctorID restricts it to one doctor's records.
type Query struct {
	Range    TimeRange
	BranchID string
	DoctorID string
}

// Dashboard bundles every report. Revenue and trends use their own fixed
// windows over the branch's records; the other reports cover Range.
type Dashboard struct {
	Range          TimeRange               `json:"range"`
	BranchID       string                  `json:"branchId,omitempty"`
	GeneratedAt    time.Time               `json:"generatedAt"`
	Records        int                     `json:"records"`
	Rejected       int                     `json:"rejected"`
	Revenue        RevenueSummary          `json:"revenue"`
	Trends         TrendReport             `json:"trends"`
	Conditions     []ConditionCount        `json:"conditions"`
	Medicines      []MedicineCount         `json:"medicines"`
	Doctors        []DoctorAnalytics       `json:"doctors"`
	Receptionists  []ReceptionistAnalytics `json:"receptionists"`
	BookingSources BookingSources          `json:"bookingSources"`
}

// Compute builds a dashboard from already parsed records.
func Compute(records []Record, receptionists []Receptionist, q Query, now time.Time) *Dashboard {
	scoped := FilterDoctor(FilterBranch(records, q.BranchID), q.DoctorID)
	inRange := FilterRange(scoped, q.Range, now)

	return &Dashboard{
		Range:          q.Range,
		BranchID:       q.BranchID,
		GeneratedAt:    now,
		Records:        len(inRange),
		Revenue:        SummarizeRevenue(scoped, now),
		Trends:         Trends(scoped, now),
		Conditions:     ConditionFrequency(inRange, PieChartTopN),
		Medicines:      MedicineFrequency(inRange, SummaryTopN),
		Doctors:        DoctorScorecards(inRange),
		Receptionists:  ReceptionistScorecards(inRange, branchReceptionists(receptionists, q.BranchID)),
		BookingSources: ClassifySources(inRange),
	}
}

func branchReceptionists(all []Receptionist, branchID string) []Receptionist {
	if branchID == "" {
		return all
	}
	out := make([]Receptionist, 0, len(all))
	for _, r := range all {
		if r.BranchID == branchID {
			out = append(out, r)
		}
	}
	return out
}

type Service struct {
	repo    Repository
	metrics *metrics.Collector
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewService(repo Repository, col *metrics.Collector, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		metrics: col,
		logger:  logger.With().Str("component", "analytics").Logger(),
		tracer:  tracing.Tracer("github.com/hms/hms/internal/domain/analytics"),
		now:     time.Now,
	}
}

// snapshot loads and parses the hospital's appointments once per report.
type snapshot struct {
	records  []Record
	rejected int
	now      time.Time
}

func (s *Service) load(ctx context.Context, report string, q Query) (*snapshot, error) {
	appts, err := s.repo.ListAppointments(ctx, q.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load appointments for %s: %w", report, err)
	}
	records, rejected := ParseRecords(appts)
	if rejected > 0 {
		s.logger.Warn().Str("report", report).Int("rejected", rejected).Msg("skipped malformed appointment records")
	}
	return &snapshot{
		records:  FilterDoctor(FilterBranch(records, q.BranchID), q.DoctorID),
		rejected: rejected,
		now:      s.now(),
	}, nil
}

// run wraps a report in a span and records its duration.
func (s *Service) run(ctx context.Context, report string, q Query, fn func(*snapshot) error) error {
	ctx, span := s.tracer.Start(ctx, "analytics."+report, trace.WithAttributes(
		attribute.String("analytics.range", string(q.Range)),
		attribute.String("analytics.branch", q.BranchID),
	))
	defer span.End()

	start := time.Now()
	snap, err := s.load(ctx, report, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return err
	}
	span.SetAttributes(attribute.Int("analytics.records", len(snap.records)))
	err = fn(snap)
	s.metrics.ObserveAnalytics(report, time.Since(start), snap.rejected)
	return err
}

func (s *Service) Dashboard(ctx context.Context, q Query) (*Dashboard, error) {
	var out *Dashboard
	err := s.run(ctx, "dashboard", q, func(snap *snapshot) error {
		var receptionists []Receptionist
		if q.DoctorID == "" {
			var err error
			receptionists, err = s.repo.ListReceptionists(ctx)
			if err != nil {
				return fmt.Errorf("load receptionists: %w", err)
			}
		}
		out = Compute(snap.records, receptionists, q, snap.now)
		out.Rejected = snap.rejected
		return nil
	})
	return out, err
}

func (s *Service) Trends(ctx context.Context, q Query) (TrendReport, error) {
	var out TrendReport
	err := s.run(ctx, "trends", q, func(snap *snapshot) error {
		out = Trends(snap.records, snap.now)
		return nil
	})
	return out, err
}

func (s *Service) Revenue(ctx context.Context, q Query) (RevenueSummary, error) {
	var out RevenueSummary
	err := s.run(ctx, "revenue", q, func(snap *snapshot) error {
		out = SummarizeRevenue(snap.records, snap.now)
		return nil
	})
	return out, err
}

func (s *Service) Conditions(ctx context.Context, q Query, topN int) ([]ConditionCount, error) {
	var out []ConditionCount
	err := s.run(ctx, "conditions", q, func(snap *snapshot) error {
		out = ConditionFrequency(FilterRange(snap.records, q.Range, snap.now), topN)
		return nil
	})
	return out, err
}

func (s *Service) Medicines(ctx context.Context, q Query, topN int) ([]MedicineCount, error) {
	var out []MedicineCount
	err := s.run(ctx, "medicines", q, func(snap *snapshot) error {
		out = MedicineFrequency(FilterRange(snap.records, q.Range, snap.now), topN)
		return nil
	})
	return out, err
}

func (s *Service) Doctors(ctx context.Context, q Query) ([]DoctorAnalytics, error) {
	var out []DoctorAnalytics
	err := s.run(ctx, "doctors", q, func(snap *snapshot) error {
		out = DoctorScorecards(FilterRange(snap.records, q.Range, snap.now))
		return nil
	})
	return out, err
}

// ReceptionistReport is the receptionist scorecard together with the
// booking source split it is derived from.
type ReceptionistReport struct {
	Sources       BookingSources          `json:"bookingSources"`
	Receptionists []ReceptionistAnalytics `json:"receptionists"`
}

func (s *Service) Receptionists(ctx context.Context, q Query) (*ReceptionistReport, error) {
	var out *ReceptionistReport
	err := s.run(ctx, "receptionists", q, func(snap *snapshot) error {
		staff, err := s.repo.ListReceptionists(ctx)
		if err != nil {
			return fmt.Errorf("load receptionists: %w", err)
		}
		inRange := FilterRange(snap.records, q.Range, snap.now)
		out = &ReceptionistReport{
			Sources:       ClassifySources(inRange),
			Receptionists: ReceptionistScorecards(inRange, branchReceptionists(staff, q.BranchID)),
		}
		return nil
	})
	return out, err
}
