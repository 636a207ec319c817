package signal

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Category groups evidence by the kind of underwriting concern it speaks to.
type Category string

const (
	CategoryMedical    Category = "medical"
	CategoryFinancial  Category = "financial"
	CategoryBehavioral Category = "behavioral"
	CategoryDisclosure Category = "disclosure"
)

// Categories lists every category in lexicographic order.
var Categories = []Category{CategoryBehavioral, CategoryDisclosure, CategoryFinancial, CategoryMedical}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryMedical, CategoryFinancial, CategoryBehavioral, CategoryDisclosure:
		return c, nil
	}
	return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown signal category %q", s)
}

// Numeric reports whether the category is scored by numeric thresholds.
func (c Category) Numeric() bool { return c != CategoryDisclosure }

// Severity is the derived seriousness of a signal.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityCaution Severity = "caution"
	SeverityAdverse Severity = "adverse"
)

// Severities lists every severity from least to most serious.
var Severities = []Severity{SeverityInfo, SeverityCaution, SeverityAdverse}

// Rank orders severities: info < caution < adverse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCaution:
		return 1
	case SeverityAdverse:
		return 2
	}
	return 0
}

// Flagged reports whether the severity warrants underwriter attention.
func (s Severity) Flagged() bool { return s.Rank() > 0 }

// ParseSeverity accepts a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case SeverityInfo, SeverityCaution, SeverityAdverse:
		return v, nil
	}
	return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown severity %q", s)
}

// Value is an observed or declared value as reported by the evidence source.
// JSON numbers and strings are both accepted.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = Value(n.String())
	return nil
}

// Float parses the value as a number. Currency symbols, thousands
// separators and a trailing percent sign are ignored ("$150,000", "5.8%").
func (v Value) Float() (float64, bool) {
	s := strings.TrimSpace(string(v))
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (v Value) String() string { return string(v) }

// Signal is one immutable, provenance-tagged piece of evidence about an
// applicant. Severity is derived by Classify; construct signals with New.
type Signal struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Observed   Value    `json:"observed"`
	Expected   *Value   `json:"expected,omitempty"`
	Severity   Severity `json:"severity"`
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
}

// Observation is a completed piece of evidence delivered by the ingestion
// collaborator, before severity classification.
type Observation struct {
	ID         string  `json:"id,omitempty"`
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Observed   Value   `json:"observed"`
	Expected   *Value  `json:"expected,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// New validates an observation and classifies it into a Signal.
func New(table ThresholdTable, obs Observation) (Signal, error) {
	cat, err := ParseCategory(obs.Category)
	if err != nil {
		return Signal{}, err
	}
	label := strings.TrimSpace(obs.Label)
	if label == "" {
		return Signal{}, domainerrors.New(domainerrors.CodeValidation, "signal label is required")
	}
	source := strings.TrimSpace(obs.Source)
	if source == "" {
		return Signal{}, domainerrors.Newf(domainerrors.CodeValidation, "signal %q: source is required", label)
	}
	if math.IsNaN(obs.Confidence) || obs.Confidence < 0 || obs.Confidence > 1 {
		return Signal{}, domainerrors.Newf(domainerrors.CodeValidation, "signal %q: confidence %v outside [0,1]", label, obs.Confidence)
	}
	if strings.TrimSpace(string(obs.Observed)) == "" {
		return Signal{}, domainerrors.Newf(domainerrors.CodeValidation, "signal %q: observed value is required", label)
	}
	var expected *Value
	if obs.Expected != nil && strings.TrimSpace(string(*obs.Expected)) != "" {
		e := *obs.Expected
		expected = &e
	}

	sev, err := Classify(table, cat, label, obs.Observed, expected)
	if err != nil {
		return Signal{}, err
	}

	id := strings.TrimSpace(obs.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return Signal{
		ID:         id,
		Category:   cat,
		Label:      label,
		Observed:   obs.Observed,
		Expected:   expected,
		Severity:   sev,
		Source:     source,
		Confidence: obs.Confidence,
	}, nil
}

// Equal reports whether s and o record the same evidence.
func (s Signal) Equal(o Signal) bool {
	if (s.Expected == nil) != (o.Expected == nil) {
		return false
	}
	if s.Expected != nil && *s.Expected != *o.Expected {
		return false
	}
	return s.ID == o.ID && s.Category == o.Category && s.Label == o.Label && s.Observed == o.Observed &&
		s.Severity == o.Severity && s.Source == o.Source && s.Confidence == o.Confidence
}

// Compare is the canonical total order over signals: category, label,
// source, then ID.
func Compare(a, b Signal) int {
	if c := strings.Compare(string(a.Category), string(b.Category)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	if c := strings.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Sorted returns a copy of signals in canonical order.
func Sorted(signals []Signal) []Signal {
	out := slices.Clone(signals)
	slices.SortFunc(out, Compare)
	return out
}
