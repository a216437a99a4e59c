package analytics

import (
	"math/rand"
	"testing"

	"github.com/hms/hms/internal/domain/booking"
)

// tenCompleted mirrors a typical day sheet: two zero-amount visits and one
// cancelled payment among ten completed appointments.
func tenCompleted() []Record {
	amounts := []float64{100, 200, 0, 50, 300, 100, 75, 25, 0, 150}
	out := make([]Record, 0, len(amounts))
	for i, a := range amounts {
		r := rec("D1", "2024-06-11", booking.StatusCompleted, a)
		if i == 4 {
			r.PaymentStatus = booking.PaymentCancelled
		}
		out = append(out, r)
	}
	return out
}

func TestRevenue_SumsOnlyEarnedAmounts(t *testing.T) {
	if got := Revenue(tenCompleted(), 0, testNow); got != 700 {
		t.Errorf("Revenue = %v, want 700", got)
	}
}

func TestRevenue_ExcludesNonCompleted(t *testing.T) {
	records := []Record{
		rec("D1", "2024-06-11", booking.StatusCompleted, 100),
		rec("D1", "2024-06-11", booking.StatusCancelled, 100),
		rec("D1", "2024-06-11", booking.StatusConfirmed, 100),
		rec("D1", "2024-06-11", booking.StatusNotAttended, 100),
	}
	if got := Revenue(records, 0, testNow); got != 100 {
		t.Errorf("Revenue = %v, want 100", got)
	}
}

func TestRevenue_OrderIndependent(t *testing.T) {
	records := tenCompleted()
	for _, r := range []float64{0.1, 0.2, 0.3} {
		x := rec("D1", "2024-06-11", booking.StatusCompleted, r)
		records = append(records, x)
	}
	want := Revenue(records, 0, testNow)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Record(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := Revenue(shuffled, 0, testNow); got != want {
			t.Fatalf("permutation %d: got %v, want %v", i, got, want)
		}
	}
	if want != 700.6 {
		t.Errorf("expected exact decimal sum 700.6, got %v", want)
	}
}

func TestRevenue_Window(t *testing.T) {
	records := []Record{
		rec("D1", "2024-06-12", booking.StatusCompleted, 10), // today
		rec("D1", "2024-06-05", booking.StatusCompleted, 20), // 7 days back, inclusive
		rec("D1", "2024-06-04", booking.StatusCompleted, 40), // outside 7 days
		rec("D1", "2024-06-13", booking.StatusCompleted, 80), // after now
		rec("D1", "", booking.StatusCompleted, 160),          // undated
	}
	if got := Revenue(records, 7, testNow); got != 30 {
		t.Errorf("7-day revenue = %v, want 30", got)
	}
	if got := Revenue(records, 0, testNow); got != 310 {
		t.Errorf("all-time revenue = %v, want 310", got)
	}
}

func TestSummarizeRevenue(t *testing.T) {
	records := []Record{
		rec("D1", "2024-06-10", booking.StatusCompleted, 100),
		rec("D1", "2024-05-20", booking.StatusCompleted, 200),
		rec("D1", "2023-01-01", booking.StatusCompleted, 400),
	}
	got := SummarizeRevenue(records, testNow)
	want := RevenueSummary{Weekly: 100, Monthly: 300, AllTime: 700}
	if got != want {
		t.Errorf("SummarizeRevenue = %+v, want %+v", got, want)
	}
}
