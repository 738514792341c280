package schema

import (
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
)

// RequiredSchema is the ordered set of columns the prediction provider consumes.
type RequiredSchema []string

// Check rejects blank and repeated names.
func (s RequiredSchema) Check() error {
	seen := make(map[string]struct{}, len(s))
	for _, name := range s {
		if strings.TrimSpace(name) == "" {
			return malformed("Required schema contains a blank column name.")
		}
		if _, dup := seen[name]; dup {
			return malformed("Duplicate required column %q.", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

type Status string

const (
	StatusPass     Status = "PASS"
	StatusMismatch Status = "MISMATCH"
)

const mismatchMessage = "Please map the required model columns to your uploaded CSV columns."

// Report is the outcome of Validate. On mismatch it carries everything a
// client needs to render a remapping form.
type Report struct {
	Status           Status
	Message          string
	RequiredColumns  []string
	DetectedColumns  []string
	MissingColumns   []string
	SuggestedMapping ColumnMapping
}

func (r Report) Passed() bool { return r.Status == StatusPass }

// Validate checks that every required column appears verbatim in detected.
func Validate(required RequiredSchema, detected []string) (Report, error) {
	if err := required.Check(); err != nil {
		return Report{}, err
	}
	present := make(map[string]struct{}, len(detected))
	for _, d := range detected {
		if _, dup := present[d]; dup {
			return Report{}, malformed("Duplicate column %q in CSV header.", d)
		}
		present[d] = struct{}{}
	}

	report := Report{
		Status:          StatusPass,
		RequiredColumns: append([]string(nil), required...),
		DetectedColumns: append([]string(nil), detected...),
	}
	for _, name := range required {
		if _, ok := present[name]; !ok {
			report.MissingColumns = append(report.MissingColumns, name)
		}
	}
	if len(report.MissingColumns) == 0 {
		return report, nil
	}

	report.Status = StatusMismatch
	report.Message = mismatchMessage
	report.SuggestedMapping = Suggest(required, detected)
	return report, nil
}

const (
	minSimilarity     = 0.8
	jaroBoostAbove    = 0.7
	jaroPrefixSize    = 4
	minContainmentLen = 3
)

// Suggest proposes a detected column for every required column. Entries with
// no candidate above minSimilarity stay unset. Equal scores resolve to the
// leftmost detected column.
func Suggest(required RequiredSchema, detected []string) ColumnMapping {
	normalized := make([]string, len(detected))
	for i, d := range detected {
		normalized[i] = normalizeName(d)
	}

	mapping := make(ColumnMapping, len(required))
	for _, name := range required {
		mapping[name] = bestMatch(normalizeName(name), detected, normalized)
	}
	return mapping
}

func bestMatch(target string, detected, normalized []string) string {
	if target == "" {
		return ""
	}
	for i, n := range normalized {
		if n == target {
			return detected[i]
		}
	}

	best, bestScore := -1, 0.0
	for i, n := range normalized {
		if score := similarity(target, n); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < minSimilarity {
		return ""
	}
	return detected[best]
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	score := smetrics.JaroWinkler(a, b, jaroBoostAbove, jaroPrefixSize)
	if c := containment(a, b); c > score {
		score = c
	}
	return score
}

// containment scores abbreviations such as "cust" for "customer_id" or
// "charges" for "monthly_charges".
func containment(a, b string) float64 {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minContainmentLen || !strings.Contains(long, short) {
		return 0
	}
	return 0.75 + 0.25*float64(len(short))/float64(len(long))
}

// normalizeName lowercases and drops everything but letters and digits, so
// "Monthly Charges", "monthly_charges" and "MonthlyCharges" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
