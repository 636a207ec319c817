package rationale

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Profile is the applicant information the chain summarizes and exposes as
// applicant.* facts. AnnualIncome is zero when unknown.
type Profile struct {
	Age          int
	Product      string
	FaceAmount   int64
	AnnualIncome int64
}

// CoverageMultiple is face amount over annual income, or false when income
// is unknown.
func (p Profile) CoverageMultiple() (float64, bool) {
	if p.AnnualIncome <= 0 {
		return 0, false
	}
	return round2(float64(p.FaceAmount) / float64(p.AnnualIncome)), true
}

// Guideline is one entry of the guideline table. When is optional.
type Guideline struct {
	Name string
	Tier risk.Tier
	When *condition.Condition
}

// GuidelineTable is evaluated in order; the first matching entry wins.
type GuidelineTable []Guideline

// Match selects the guideline for tier. No match is a configuration error.
func (t GuidelineTable) Match(tier risk.Tier, facts condition.EvalContext) (Guideline, error) {
	for _, g := range t {
		if g.Tier != tier {
			continue
		}
		if g.When == nil {
			return g, nil
		}
		ok, err := g.When.Eval(facts)
		if err != nil {
			return Guideline{}, domainerrors.Wrap(err, domainerrors.CodeConfiguration,
				fmt.Sprintf("guideline %q", g.Name))
		}
		if ok {
			return g, nil
		}
	}
	return Guideline{}, domainerrors.Newf(domainerrors.CodeConfiguration, "no guideline matches tier %s", tier)
}

// Build derives the chain for a snapshot: one DataAggregation step, one
// PatternRecognition step per category with flagged signals and one
// GuidelineAlignment step. It is pure.
func Build(snap *risk.Snapshot, profile Profile, guidelines GuidelineTable) (Chain, error) {
	if snap == nil {
		return Chain{}, domainerrors.New(domainerrors.CodeInternal, "rationale: nil snapshot")
	}
	all := snap.Signals()
	flagged := make([]signal.Signal, 0, len(all))
	for _, s := range all {
		if s.Severity.Flagged() {
			flagged = append(flagged, s)
		}
	}

	chain := Chain{
		Tier:            snap.Tier,
		Score:           snap.CompositeScore,
		SnapshotVersion: snap.Version,
		facts:           buildFacts(snap, profile, all),
	}

	chain.Steps = append(chain.Steps, aggregationStep(all, profile))
	chain.Steps = append(chain.Steps, patternSteps(snap)...)

	g, err := guidelines.Match(snap.Tier, chain.facts)
	if err != nil {
		return Chain{}, err
	}
	refs := flagged
	if len(refs) == 0 {
		refs = all
	}
	chain.Steps = append(chain.Steps, NewStep(KindGuidelineAlignment, Detail{
		Summary:   fmt.Sprintf("%s risk (score %.2f) aligns with guideline %s", snap.Tier, snap.CompositeScore, g.Name),
		Guideline: g.Name,
	}, refs))
	return chain, nil
}

func aggregationStep(all []signal.Signal, p Profile) Step {
	counts := make(map[signal.Category]int)
	for _, s := range all {
		counts[s.Category]++
	}
	var parts []string
	for _, c := range signal.Categories {
		if n := counts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", c, n))
		}
	}
	summary := fmt.Sprintf("Aggregated %d signals from %d sources", len(all), len(sources(all)))
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	summary += fmt.Sprintf("; applicant age %d, %s, face amount %d", p.Age, p.Product, p.FaceAmount)
	if m, ok := p.CoverageMultiple(); ok {
		summary += fmt.Sprintf(", coverage %.1fx income", m)
	}
	return NewStep(KindDataAggregation, Detail{Summary: summary, Counts: counts}, all)
}

type cluster struct {
	category signal.Category
	signals  []signal.Signal
	points   float64
	adverse  int
	caution  int
}

func patternSteps(snap *risk.Snapshot) []Step {
	byCat := map[signal.Category]*cluster{}
	for _, c := range snap.Flagged() {
		cl, ok := byCat[c.Signal.Category]
		if !ok {
			cl = &cluster{category: c.Signal.Category}
			byCat[c.Signal.Category] = cl
		}
		cl.signals = append(cl.signals, c.Signal)
		cl.points += c.Contribution
		if c.Signal.Severity == signal.SeverityAdverse {
			cl.adverse++
		} else {
			cl.caution++
		}
	}
	clusters := make([]*cluster, 0, len(byCat))
	for _, cl := range byCat {
		cl.points = round2(cl.points)
		clusters = append(clusters, cl)
	}
	slices.SortFunc(clusters, func(a, b *cluster) int {
		if c := cmp.Compare(b.points, a.points); c != 0 {
			return c
		}
		return cmp.Compare(a.category, b.category)
	})

	steps := make([]Step, 0, len(clusters))
	for _, cl := range clusters {
		labels := make([]string, 0, len(cl.signals))
		for _, s := range cl.signals {
			labels = append(labels, fmt.Sprintf("%s (%s)", s.Label, s.Severity))
		}
		steps = append(steps, NewStep(KindPatternRecognition, Detail{
			Summary: fmt.Sprintf("%s pattern: %d adverse, %d caution, %.2f points: %s",
				cl.category, cl.adverse, cl.caution, cl.points, strings.Join(labels, ", ")),
			Category: cl.category,
		}, cl.signals))
	}
	return steps
}

// KnownFact reports whether path names a fact Chain.Facts provides.
// applicant.coverage_multiple is 0 when income is not declared.
func KnownFact(path string) bool {
	switch path {
	case "tier", "score", "signals.total", "signals.flagged", "signals.sources",
		"applicant.age", "applicant.face_amount", "applicant.product", "applicant.coverage_multiple":
		return true
	}
	sev, cat, ok := strings.Cut(path, ".")
	if !ok {
		return false
	}
	return slices.Contains(signal.Severities, signal.Severity(sev)) &&
		slices.Contains(signal.Categories, signal.Category(cat))
}

func buildFacts(snap *risk.Snapshot, p Profile, all []signal.Signal) condition.Facts {
	f := condition.Facts{
		"tier":                  string(snap.Tier),
		"score":                 snap.CompositeScore,
		"signals.total":         float64(len(all)),
		"signals.flagged":       0.0,
		"signals.sources":       float64(len(sources(all))),
		"applicant.age":         float64(p.Age),
		"applicant.face_amount": float64(p.FaceAmount),
		"applicant.product":     p.Product,
	}
	m, _ := p.CoverageMultiple()
	f["applicant.coverage_multiple"] = m
	for _, c := range signal.Categories {
		for _, sev := range signal.Severities {
			f[string(sev)+"."+string(c)] = 0.0
		}
	}
	var flagged float64
	for _, s := range all {
		k := string(s.Severity) + "." + string(s.Category)
		f[k] = f[k].(float64) + 1
		if s.Severity.Flagged() {
			flagged++
		}
	}
	f["signals.flagged"] = flagged
	return f
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
