package analytics

import (
	"math"
	"sort"
	"strings"
)

// OtherLabel names the synthetic entry that merges everything past the top N.
const OtherLabel = "Other"

const (
	// PieChartTopN is the number of slices shown before merging into Other.
	PieChartTopN = 6
	// SummaryTopN is the number of rows in summary panels.
	SummaryTopN = 8
)

// Term is one vocabulary entry. A text matches the term when it contains
// any of the keywords, compared case-insensitively.
type Term struct {
	Label    string
	Keywords []string
}

var ConditionVocabulary = []Term{
	{Label: "Fever", Keywords: []string{"fever", "pyrexia"}},
	{Label: "Cold", Keywords: []string{"cold", "runny nose"}},
	{Label: "Cough", Keywords: []string{"cough"}},
	{Label: "Headache", Keywords: []string{"headache", "migraine"}},
	{Label: "Diabetes", Keywords: []string{"diabetes", "diabetic", "blood sugar"}},
	{Label: "Hypertension", Keywords: []string{"hypertension", "high blood pressure"}},
	{Label: "Asthma", Keywords: []string{"asthma", "wheez"}},
	{Label: "Back Pain", Keywords: []string{"back pain", "backache"}},
	{Label: "Joint Pain", Keywords: []string{"joint pain", "arthritis"}},
	{Label: "Chest Pain", Keywords: []string{"chest pain"}},
	{Label: "Stomach Pain", Keywords: []string{"stomach", "abdominal pain", "gastritis"}},
	{Label: "Allergy", Keywords: []string{"allerg"}},
	{Label: "Skin Rash", Keywords: []string{"rash", "itch", "eczema"}},
	{Label: "Sore Throat", Keywords: []string{"sore throat", "throat pain"}},
	{Label: "Infection", Keywords: []string{"infection"}},
	{Label: "Anxiety", Keywords: []string{"anxiety", "stress"}},
	{Label: "Thyroid", Keywords: []string{"thyroid"}},
	{Label: "Injury", Keywords: []string{"injury", "fracture", "sprain"}},
}

var MedicineVocabulary = []Term{
	{Label: "Paracetamol", Keywords: []string{"paracetamol", "acetaminophen", "dolo", "crocin"}},
	{Label: "Ibuprofen", Keywords: []string{"ibuprofen", "brufen"}},
	{Label: "Amoxicillin", Keywords: []string{"amoxicillin", "amoxycillin"}},
	{Label: "Azithromycin", Keywords: []string{"azithromycin", "azithral"}},
	{Label: "Cetirizine", Keywords: []string{"cetirizine"}},
	{Label: "Metformin", Keywords: []string{"metformin"}},
	{Label: "Amlodipine", Keywords: []string{"amlodipine"}},
	{Label: "Atorvastatin", Keywords: []string{"atorvastatin"}},
	{Label: "Omeprazole", Keywords: []string{"omeprazole"}},
	{Label: "Pantoprazole", Keywords: []string{"pantoprazole", "pan 40", "pan-d"}},
	{Label: "Salbutamol", Keywords: []string{"salbutamol", "albuterol"}},
	{Label: "Levothyroxine", Keywords: []string{"levothyroxine", "thyronorm"}},
	{Label: "Losartan", Keywords: []string{"losartan"}},
	{Label: "Insulin", Keywords: []string{"insulin"}},
	{Label: "Vitamin D", Keywords: []string{"vitamin d", "cholecalciferol"}},
	{Label: "ORS", Keywords: []string{"ors sachet", "oral rehydration", "electral"}},
}

// ConditionCount is one row of the condition frequency table.
type ConditionCount struct {
	Condition string   `json:"condition"`
	Count     int      `json:"count"`
	Merged    []string `json:"merged,omitempty"`
}

// MedicineCount is one row of the medicine frequency table. Percentage is
// the share of all matches, rounded to one decimal.
type MedicineCount struct {
	MedicineName      string   `json:"medicineName"`
	PrescriptionCount int      `json:"prescriptionCount"`
	Percentage        float64  `json:"percentage"`
	Merged            []string `json:"merged,omitempty"`
}

type labelCount struct {
	label  string
	count  int
	merged []string
}

// matchCounts counts, per term, the texts that mention it. One text may
// match several terms.
func matchCounts(texts []string, vocab []Term) map[string]int {
	counts := make(map[string]int)
	for _, text := range texts {
		lower := strings.ToLower(text)
		if strings.TrimSpace(lower) == "" {
			continue
		}
		for _, term := range vocab {
			if containsAny(lower, term.Keywords) {
				counts[term.Label]++
			}
		}
	}
	return counts
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// rankTop sorts by count desc then label asc and folds everything past n
// into an Other entry. n <= 0 keeps every entry.
func rankTop(counts map[string]int, n int) []labelCount {
	rows := make([]labelCount, 0, len(counts))
	for label, c := range counts {
		rows = append(rows, labelCount{label: label, count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].label < rows[j].label
	})
	if n <= 0 || len(rows) <= n {
		return rows
	}

	other := labelCount{label: OtherLabel}
	for _, r := range rows[n:] {
		other.count += r.count
		other.merged = append(other.merged, r.label)
	}
	return append(rows[:n:n], other)
}

// ConditionFrequency counts chief complaints against ConditionVocabulary.
func ConditionFrequency(records []Record, topN int) []ConditionCount {
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.ChiefComplaint)
	}
	rows := rankTop(matchCounts(texts, ConditionVocabulary), topN)
	out := make([]ConditionCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, ConditionCount{Condition: r.label, Count: r.count, Merged: r.merged})
	}
	return out
}

// MedicineFrequency counts prescriptions against MedicineVocabulary.
func MedicineFrequency(records []Record, topN int) []MedicineCount {
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Medicines)
	}
	counts := matchCounts(texts, MedicineVocabulary)
	total := 0
	for _, c := range counts {
		total += c
	}

	rows := rankTop(counts, topN)
	out := make([]MedicineCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, MedicineCount{
			MedicineName:      r.label,
			PrescriptionCount: r.count,
			Percentage:        percent(r.count, total),
			Merged:            r.merged,
		})
	}
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) * 100 / float64(total))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
