package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/booking"
)

// RevenueSummary holds revenue over the trailing week, the trailing 30 days
// and all time.
type RevenueSummary struct {
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
	AllTime float64 `json:"allTime"`
}

// earnsRevenue reports whether a record's amount counts as revenue: the
// visit is completed and its payment was not cancelled.
func earnsRevenue(r Record) bool {
	return r.Status == booking.StatusCompleted && r.PaymentStatus != booking.PaymentCancelled
}

// Revenue sums the amounts of revenue-earning records. When windowDays is
// positive only records dated between startOfDay(now)-windowDays and now
// count, and records without a parseable date are left out.
func Revenue(records []Record, windowDays int, now time.Time) float64 {
	return revenueDecimal(records, windowDays, now).InexactFloat64()
}

func revenueDecimal(records []Record, windowDays int, now time.Time) decimal.Decimal {
	var from time.Time
	if windowDays > 0 {
		from = startOfDay(now).AddDate(0, 0, -windowDays)
	}
	total := decimal.Zero
	for _, r := range records {
		if !earnsRevenue(r) || !r.Amount.IsPositive() {
			continue
		}
		if windowDays > 0 {
			if !r.HasDate() {
				continue
			}
			day := r.DayIn(now.Location())
			if day.Before(from) || day.After(now) {
				continue
			}
		}
		total = total.Add(r.Amount)
	}
	return total
}

// SummarizeRevenue computes the 7-day, 30-day and all-time rollups.
func SummarizeRevenue(records []Record, now time.Time) RevenueSummary {
	return RevenueSummary{
		Weekly:  Revenue(records, 7, now),
		Monthly: Revenue(records, 30, now),
		AllTime: Revenue(records, 0, now),
	}
}
