// Package policy compiles a validated policy config into the typed tables
// the decisioning packages consume. Expressions are compiled here once;
// nothing is parsed while scoring.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/config"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/recommend"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Policy is an immutable, compiled policy version.
type Policy struct {
	Version    string
	Thresholds signal.ThresholdTable
	Risk       risk.Policy
	Guidelines rationale.GuidelineTable
	Recommend  recommend.Policy
	Engine     config.EngineConf
}

// MutationTimeout bounds a single case mutation.
func (p *Policy) MutationTimeout() time.Duration {
	return time.Duration(p.Engine.MutationTimeoutMs) * time.Millisecond
}

// Compile builds a Policy from a validated config.
func Compile(cfg *config.PolicyConfig) (*Policy, error) {
	p := &Policy{
		Version:    cfg.Version,
		Thresholds: make(signal.ThresholdTable, len(cfg.Severity)),
		Engine:     cfg.Engine,
	}

	for name, sc := range cfg.Severity {
		c, err := signal.ParseCategory(name)
		if err != nil {
			return nil, wrap(err, "severity."+name)
		}
		th := signal.CategoryThresholds{Caution: sc.Caution, Adverse: sc.Adverse, Limits: map[string]signal.Limit{}}
		for label, lim := range sc.Limits {
			dir := signal.DirectionAbove
			if lim.Direction == string(signal.DirectionBelow) {
				dir = signal.DirectionBelow
			}
			th.Limits[signal.NormalizeLabel(label)] = signal.Limit{Caution: lim.Caution, Adverse: lim.Adverse, Direction: dir}
		}
		p.Thresholds[c] = th
	}

	weights := make(risk.WeightTable, len(cfg.Weights))
	for name, bySev := range cfg.Weights {
		c, err := signal.ParseCategory(name)
		if err != nil {
			return nil, wrap(err, "weights."+name)
		}
		weights[c] = make(map[signal.Severity]float64, len(bySev))
		for sevName, w := range bySev {
			sev, err := signal.ParseSeverity(sevName)
			if err != nil {
				return nil, wrap(err, "weights."+name)
			}
			weights[c][sev] = w
		}
	}
	p.Risk = risk.Policy{
		Weights: weights,
		Scale:   cfg.Scale,
		Tiers:   risk.TierBounds{MediumFloor: cfg.Tiers.Medium, HighFloor: cfg.Tiers.High},
		Version: cfg.Version,
	}
	if err := p.Risk.Validate(); err != nil {
		return nil, err
	}

	for _, g := range cfg.Guidelines {
		tier, err := risk.ParseTier(g.Tier)
		if err != nil {
			return nil, wrap(err, fmt.Sprintf("guideline %q", g.Name))
		}
		entry := rationale.Guideline{Name: g.Name, Tier: tier}
		if strings.TrimSpace(g.When) != "" {
			if entry.When, err = compileFacts(g.When); err != nil {
				return nil, wrap(err, fmt.Sprintf("guideline %q", g.Name))
			}
		}
		p.Guidelines = append(p.Guidelines, entry)
	}

	rc := cfg.Recommendation
	trigger, err := compileFacts(rc.EvidenceTrigger)
	if err != nil {
		return nil, wrap(err, "recommendation.evidence_trigger")
	}
	step, err := decimal.NewFromString(rc.TableStep)
	if err != nil {
		return nil, wrap(err, "recommendation.table_step")
	}
	medium, err := loading(rc.Medium)
	if err != nil {
		return nil, wrap(err, "recommendation.medium")
	}
	high, err := loading(rc.High)
	if err != nil {
		return nil, wrap(err, "recommendation.high")
	}
	p.Recommend = recommend.Policy{
		EvidenceTrigger: trigger,
		Medium:          medium,
		High:            high,
		TableStep:       step,
		Tiers:           p.Risk.Tiers,
	}
	if err := p.Recommend.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// compileFacts compiles an expression and rejects references to facts the
// rationale chain does not provide.
func compileFacts(src string) (*condition.Condition, error) {
	c, err := condition.Compile(src)
	if err != nil {
		return nil, err
	}
	for _, f := range c.Fields() {
		if !rationale.KnownFact(f) {
			return nil, fmt.Errorf("unknown fact %q in %q", f, src)
		}
	}
	return c, nil
}

func loading(l config.LoadingConf) (recommend.Loading, error) {
	var (
		out recommend.Loading
		err error
	)
	if out.Base, err = decimal.NewFromString(l.Base); err != nil {
		return out, fmt.Errorf("base: %w", err)
	}
	if out.PerPoint, err = decimal.NewFromString(l.PerPoint); err != nil {
		return out, fmt.Errorf("per_point: %w", err)
	}
	if out.Max, err = decimal.NewFromString(l.Max); err != nil {
		return out, fmt.Errorf("max: %w", err)
	}
	return out, nil
}

func wrap(err error, where string) error {
	return domainerrors.Wrap(err, domainerrors.CodeConfiguration, where)
}

// Load parses, validates and compiles a policy document.
func Load(data []byte) (*Policy, error) {
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(cfg)
}

// Summary is the externally visible description of a policy version.
type Summary struct {
	Version    string             `json:"version"`
	Tiers      risk.TierBounds    `json:"tiers"`
	Guidelines []GuidelineSummary `json:"guidelines"`
	Trigger    string             `json:"evidence_trigger"`
	Weights    risk.WeightTable   `json:"weights"`
}

type GuidelineSummary struct {
	Name string    `json:"name"`
	Tier risk.Tier `json:"tier"`
	When string    `json:"when,omitempty"`
}

func (p *Policy) Summary() Summary {
	s := Summary{
		Version: p.Version,
		Tiers:   p.Risk.Tiers,
		Weights: p.Risk.Weights,
		Trigger: p.Recommend.EvidenceTrigger.String(),
	}
	for _, g := range p.Guidelines {
		gs := GuidelineSummary{Name: g.Name, Tier: g.Tier}
		if g.When != nil {
			gs.When = g.When.String()
		}
		s.Guidelines = append(s.Guidelines, gs)
	}
	return s
}
