package risk

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Tier is a coarse risk bucket derived from the composite score.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// ParseTier accepts a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	}
	return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown tier %q", s)
}

// WeightTable gives the score points a fully confident signal contributes,
// per category and severity.
type WeightTable map[signal.Category]map[signal.Severity]float64

// Weight looks up a weight; a missing entry is a configuration error.
func (w WeightTable) Weight(c signal.Category, s signal.Severity) (float64, error) {
	bySev, ok := w[c]
	if !ok {
		return 0, domainerrors.Newf(domainerrors.CodeConfiguration, "no weights for category %q", c)
	}
	v, ok := bySev[s]
	if !ok {
		return 0, domainerrors.Newf(domainerrors.CodeConfiguration, "no weight for %s/%s", c, s)
	}
	return v, nil
}

// TierBounds are the inclusive lower score bounds of Medium and High.
type TierBounds struct {
	MediumFloor float64 `json:"medium_floor"`
	HighFloor   float64 `json:"high_floor"`
}

// Validate requires 0 < MediumFloor < HighFloor <= 100.
func (b TierBounds) Validate() error {
	if !(b.MediumFloor > 0 && b.MediumFloor < b.HighFloor && b.HighFloor <= 100) {
		return domainerrors.Newf(domainerrors.CodeConfiguration,
			"tier bounds must satisfy 0 < medium (%v) < high (%v) <= 100", b.MediumFloor, b.HighFloor)
	}
	return nil
}

// TierFor buckets a score.
func (b TierBounds) TierFor(score float64) Tier {
	switch {
	case score >= b.HighFloor:
		return TierHigh
	case score >= b.MediumFloor:
		return TierMedium
	}
	return TierLow
}

// Floor is the lowest score that lands in t.
func (b TierBounds) Floor(t Tier) float64 {
	switch t {
	case TierHigh:
		return b.HighFloor
	case TierMedium:
		return b.MediumFloor
	}
	return 0
}

// Policy is the aggregation configuration.
type Policy struct {
	Weights WeightTable
	Scale   float64 // weighted sum that maps to a score of 100
	Tiers   TierBounds
	Version string
}

// Validate checks the policy is complete: every category and severity has a
// non-negative weight, weights do not decrease with severity, and the tier
// bounds are ordered.
func (p Policy) Validate() error {
	if p.Scale <= 0 {
		return domainerrors.Newf(domainerrors.CodeConfiguration, "aggregation scale must be positive, got %v", p.Scale)
	}
	for _, c := range signal.Categories {
		prev := -1.0
		for _, s := range signal.Severities {
			w, err := p.Weights.Weight(c, s)
			if err != nil {
				return err
			}
			if w < 0 {
				return domainerrors.Newf(domainerrors.CodeConfiguration, "weight %s/%s is negative", c, s)
			}
			if w < prev {
				return domainerrors.Newf(domainerrors.CodeConfiguration, "weight %s/%s is lower than the weight of a milder severity", c, s)
			}
			prev = w
		}
	}
	return p.Tiers.Validate()
}

// Contribution is one signal's share of the composite score.
type Contribution struct {
	Signal       signal.Signal `json:"signal"`
	Weight       float64       `json:"weight"`
	Contribution float64       `json:"contribution"`
}

// Snapshot is the immutable result of one aggregation run. Version is a
// logical counter (the signal-set version it was computed from), not wall
// time.
type Snapshot struct {
	CompositeScore float64        `json:"composite_score"`
	Tier           Tier           `json:"tier"`
	Contributions  []Contribution `json:"contributing_signals"`
	Version        uint64         `json:"version"`
	PolicyVersion  string         `json:"policy_version"`
}

// Aggregate combines signals into a snapshot. It is pure and independent of
// the order of signals; Version is left zero for the caller to stamp.
func Aggregate(p Policy, signals []signal.Signal) (*Snapshot, error) {
	if err := p.Tiers.Validate(); err != nil {
		return nil, err
	}
	if p.Scale <= 0 {
		return nil, domainerrors.Newf(domainerrors.CodeConfiguration, "aggregation scale must be positive, got %v", p.Scale)
	}

	contribs := make([]Contribution, 0, len(signals))
	for _, s := range signals {
		w, err := p.Weights.Weight(s.Category, s.Severity)
		if err != nil {
			return nil, err
		}
		contribs = append(contribs, Contribution{
			Signal:       s,
			Weight:       w,
			Contribution: round2(w * s.Confidence * 100 / p.Scale),
		})
	}
	slices.SortFunc(contribs, compareContributions)

	// Summed in canonical order so float rounding cannot depend on input order.
	var sum float64
	for _, c := range contribs {
		sum += c.Contribution
	}
	score := round2(math.Min(100, math.Max(0, sum)))

	return &Snapshot{
		CompositeScore: score,
		Tier:           p.Tiers.TierFor(score),
		Contributions:  contribs,
		PolicyVersion:  p.Version,
	}, nil
}

// compareContributions orders by contribution descending, then by
// (category, label) and finally by source and ID.
func compareContributions(a, b Contribution) int {
	if c := cmp.Compare(b.Contribution, a.Contribution); c != 0 {
		return c
	}
	return signal.Compare(a.Signal, b.Signal)
}

// WithVersion returns a copy of the snapshot stamped with version v.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	out := *s
	out.Contributions = slices.Clone(s.Contributions)
	out.Version = v
	return &out
}

// Flagged returns the caution and adverse contributions in snapshot order.
func (s *Snapshot) Flagged() []Contribution {
	var out []Contribution
	for _, c := range s.Contributions {
		if c.Signal.Severity.Flagged() {
			out = append(out, c)
		}
	}
	return out
}

// Signals returns the signals the snapshot was computed from, in snapshot order.
func (s *Snapshot) Signals() []signal.Signal {
	out := make([]signal.Signal, len(s.Contributions))
	for i, c := range s.Contributions {
		out[i] = c.Signal
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
