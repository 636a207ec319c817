// Package rationale builds the ordered, explainable chain of reasoning steps
// behind a risk snapshot.
package rationale

import (
	"math"
	"slices"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
)

// Kind names the reasoning stage a step belongs to.
type Kind string

const (
	KindDataAggregation    Kind = "DataAggregation"
	KindPatternRecognition Kind = "PatternRecognition"
	KindGuidelineAlignment Kind = "GuidelineAlignment"
	KindRecommendation     Kind = "Recommendation"
)

// Detail is the structured payload of a step. Every step carries the IDs
// and sources of the signals it relied on.
type Detail struct {
	Summary   string                  `json:"summary"`
	Category  signal.Category         `json:"category,omitempty"`
	Guideline string                  `json:"guideline,omitempty"`
	Action    string                  `json:"action,omitempty"`
	Rating    string                  `json:"rating,omitempty"`
	Counts    map[signal.Category]int `json:"counts,omitempty"`
	SignalIDs []string                `json:"signal_ids"`
	Sources   []string                `json:"sources"`
}

// Step is one link of the chain. Confidence is an integer percentage.
type Step struct {
	Kind       Kind   `json:"kind"`
	Detail     Detail `json:"detail"`
	Confidence int    `json:"confidence"`
}

// Chain is an immutable, ordered list of steps together with the facts they
// were derived from.
type Chain struct {
	Steps           []Step    `json:"steps"`
	Tier            risk.Tier `json:"tier"`
	Score           float64   `json:"score"`
	SnapshotVersion uint64    `json:"snapshot_version"`

	facts condition.Facts
}

// Append returns a new chain with step added at the end.
func (c Chain) Append(s Step) Chain {
	out := c
	out.Steps = append(slices.Clone(c.Steps), s)
	return out
}

// Find returns the first step of kind k.
func (c Chain) Find(k Kind) (Step, bool) {
	for _, s := range c.Steps {
		if s.Kind == k {
			return s, true
		}
	}
	return Step{}, false
}

// Facts returns a copy of the facts guideline and trigger expressions are
// evaluated against.
func (c Chain) Facts() condition.Facts {
	out := make(condition.Facts, len(c.facts))
	for k, v := range c.facts {
		out[k] = v
	}
	return out
}

// NewStep builds a step that references signals, deriving its confidence and
// provenance from them.
func NewStep(kind Kind, d Detail, signals []signal.Signal) Step {
	d.SignalIDs = make([]string, 0, len(signals))
	for _, s := range signals {
		d.SignalIDs = append(d.SignalIDs, s.ID)
	}
	d.Sources = sources(signals)
	return Step{Kind: kind, Detail: d, Confidence: confidence(signals)}
}

// confidence is the mean signal confidence as a rounded percentage; a step
// that references no signals has confidence 0.
func confidence(signals []signal.Signal) int {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	return int(math.Round(sum / float64(len(signals)) * 100))
}

func sources(signals []signal.Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Source)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
