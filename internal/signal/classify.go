package signal

import (
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Direction says which side of a limit is the risky one.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Limit is an absolute, label-specific threshold used when no declared value
// exists to deviate from (a lab value, a BMI).
type Limit struct {
	Caution   float64
	Adverse   float64
	Direction Direction
}

// CategoryThresholds holds the relative-deviation bands for a category plus
// its absolute label limits. Deviation above Adverse is adverse; deviation of
// at least Caution is caution.
type CategoryThresholds struct {
	Caution float64
	Adverse float64
	Limits  map[string]Limit
}

// ThresholdTable maps numeric categories to their thresholds.
type ThresholdTable map[Category]CategoryThresholds

// NormalizeLabel is the key form used for label limits.
func NormalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.Fields(l), "_")
}

// Classify derives a severity from the category thresholds. It is a pure
// function of its arguments.
func Classify(table ThresholdTable, category Category, label string, observed Value, expected *Value) (Severity, error) {
	if category == CategoryDisclosure {
		return classifyDisclosure(observed, expected), nil
	}

	th, ok := table[category]
	if !ok {
		return "", domainerrors.Newf(domainerrors.CodeConfiguration, "no severity thresholds for category %q", category)
	}
	obs, ok := observed.Float()
	if !ok {
		return "", domainerrors.Newf(domainerrors.CodeValidation, "signal %q: observed value %q is not numeric", label, observed)
	}

	if expected != nil {
		exp, ok := expected.Float()
		if !ok {
			return "", domainerrors.Newf(domainerrors.CodeValidation, "signal %q: expected value %q is not numeric", label, *expected)
		}
		dev := deviation(obs, exp)
		switch {
		case dev > th.Adverse:
			return SeverityAdverse, nil
		case dev >= th.Caution:
			return SeverityCaution, nil
		}
		return SeverityInfo, nil
	}

	lim, ok := th.Limits[NormalizeLabel(label)]
	if !ok {
		return SeverityInfo, nil
	}
	if lim.Direction == DirectionBelow {
		switch {
		case obs <= lim.Adverse:
			return SeverityAdverse, nil
		case obs <= lim.Caution:
			return SeverityCaution, nil
		}
		return SeverityInfo, nil
	}
	switch {
	case obs >= lim.Adverse:
		return SeverityAdverse, nil
	case obs >= lim.Caution:
		return SeverityCaution, nil
	}
	return SeverityInfo, nil
}

// deviation is the relative variance of observed from expected.
func deviation(observed, expected float64) float64 {
	if expected == 0 {
		if observed == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(observed-expected) / math.Abs(expected)
}

func classifyDisclosure(observed Value, expected *Value) Severity {
	if expected == nil {
		return SeverityInfo
	}
	o := strings.TrimSpace(string(observed))
	e := strings.TrimSpace(string(*expected))
	if o == "" || e == "" {
		return SeverityInfo
	}
	if strings.EqualFold(o, e) {
		return SeverityInfo
	}
	return SeverityAdverse
}
