package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Validate checks the config for:
//   - Required fields and known category, severity and tier names
//   - Complete, non-negative weights that do not decrease with severity
//   - Ordered severity thresholds and tier bounds
//   - Guideline and trigger expressions that parse, and a guideline for every tier
//   - Decimal loading coefficients
//
// Every problem is reported, not just the first.
func Validate(cfg *PolicyConfig) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if cfg.Version == "" {
		add("version is required")
	}
	if cfg.Engine.IntakeWorkers < 1 {
		add("engine.intake_workers must be at least 1")
	}
	if cfg.Engine.QueueDepth < 1 {
		add("engine.queue_depth must be at least 1")
	}
	if cfg.Engine.MutationTimeoutMs < 1 {
		add("engine.mutation_timeout_ms must be positive")
	}

	validateSeverity(cfg, add)
	validateWeights(cfg, add)

	if cfg.Scale <= 0 {
		add("scale must be positive")
	}
	if !(cfg.Tiers.Medium > 0 && cfg.Tiers.Medium < cfg.Tiers.High && cfg.Tiers.High <= 100) {
		add("tiers must satisfy 0 < medium (%v) < high (%v) <= 100", cfg.Tiers.Medium, cfg.Tiers.High)
	}

	validateGuidelines(cfg, add)
	validateRecommendation(cfg, add)

	if len(errs) > 0 {
		return domainerrors.New(domainerrors.CodeConfiguration,
			"config validation errors:\n  - "+strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateSeverity(cfg *PolicyConfig, add func(string, ...any)) {
	for name := range cfg.Severity {
		c, err := signal.ParseCategory(name)
		if err != nil {
			add("severity.%s: unknown category", name)
			continue
		}
		if !c.Numeric() {
			add("severity.%s: disclosure signals are classified by mismatch and take no thresholds", name)
		}
	}
	for _, c := range signal.Categories {
		if !c.Numeric() {
			continue
		}
		sc, ok := cfg.Severity[string(c)]
		if !ok {
			add("severity.%s: thresholds are required", c)
			continue
		}
		if sc.Caution < 0 || sc.Caution > sc.Adverse {
			add("severity.%s: must satisfy 0 <= caution (%v) <= adverse (%v)", c, sc.Caution, sc.Adverse)
		}
		for label, lim := range sc.Limits {
			switch lim.Direction {
			case "above", "":
				if lim.Caution > lim.Adverse {
					add("severity.%s.limits.%s: caution must not exceed adverse", c, label)
				}
			case "below":
				if lim.Caution < lim.Adverse {
					add("severity.%s.limits.%s: for direction below, caution must not be under adverse", c, label)
				}
			default:
				add("severity.%s.limits.%s: direction must be above or below, got %q", c, label, lim.Direction)
			}
			if signal.NormalizeLabel(label) != label {
				add("severity.%s.limits.%s: label keys must be lower_snake_case", c, label)
			}
		}
	}
}

func validateWeights(cfg *PolicyConfig, add func(string, ...any)) {
	for name, bySev := range cfg.Weights {
		if _, err := signal.ParseCategory(name); err != nil {
			add("weights.%s: unknown category", name)
		}
		for sev := range bySev {
			if _, err := signal.ParseSeverity(sev); err != nil {
				add("weights.%s.%s: unknown severity", name, sev)
			}
		}
	}
	for _, c := range signal.Categories {
		bySev, ok := cfg.Weights[string(c)]
		if !ok {
			add("weights.%s: weights are required", c)
			continue
		}
		prev := 0.0
		for _, s := range signal.Severities {
			w, ok := bySev[string(s)]
			if !ok {
				add("weights.%s.%s: weight is required", c, s)
				continue
			}
			if w < 0 {
				add("weights.%s.%s: must not be negative", c, s)
			}
			if w < prev {
				add("weights.%s.%s: must not be lower than a milder severity", c, s)
			}
			prev = w
		}
	}
}

func validateGuidelines(cfg *PolicyConfig, add func(string, ...any)) {
	covered := map[string]bool{}
	for i, g := range cfg.Guidelines {
		loc := fmt.Sprintf("guidelines[%d]", i)
		if g.Name != "" {
			loc = fmt.Sprintf("guideline %q", g.Name)
		} else {
			add("%s: name is required", loc)
		}
		tier := strings.ToLower(strings.TrimSpace(g.Tier))
		switch tier {
		case "low", "medium", "high":
			if g.When == "" {
				covered[tier] = true
			}
		default:
			add("%s: unknown tier %q", loc, g.Tier)
		}
		if g.When != "" {
			if _, err := condition.Parse(g.When); err != nil {
				add("%s: when: %v", loc, err)
			}
		}
	}
	for _, tier := range []string{"low", "medium", "high"} {
		if !covered[tier] {
			add("guidelines: tier %s needs an entry without a when clause as its fallback", tier)
		}
	}
}

func validateRecommendation(cfg *PolicyConfig, add func(string, ...any)) {
	r := cfg.Recommendation
	if _, err := condition.Parse(r.EvidenceTrigger); err != nil {
		add("recommendation.evidence_trigger: %v", err)
	}
	if step, err := decimal.NewFromString(r.TableStep); err != nil || !step.IsPositive() {
		add("recommendation.table_step must be a positive decimal, got %q", r.TableStep)
	}
	for name, l := range map[string]LoadingConf{"medium": r.Medium, "high": r.High} {
		vals := map[string]string{"base": l.Base, "per_point": l.PerPoint, "max": l.Max}
		parsed := map[string]decimal.Decimal{}
		for field, v := range vals {
			d, err := decimal.NewFromString(v)
			if err != nil || d.IsNegative() {
				add("recommendation.%s.%s must be a non-negative decimal, got %q", name, field, v)
				continue
			}
			parsed[field] = d
		}
		base, okBase := parsed["base"]
		maxv, okMax := parsed["max"]
		if okBase && okMax && maxv.LessThan(base) {
			add("recommendation.%s: max must not be below base", name)
		}
	}
}
