// Package recommend turns a risk tier and its rationale into an underwriting
// action with a premium rating.
package recommend

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Action is the recommended next step for the underwriter.
type Action string

const (
	ActionApprove         Action = "Approve"
	ActionRequestEvidence Action = "RequestEvidence"
	ActionApplyRating     Action = "ApplyRating"
	ActionRefer           Action = "Refer"
)

const (
	RatingStandard        = "Standard"
	RatingPendingEvidence = "Pending Evidence"
)

// maxTables caps table ratings at Table P.
const maxTables = 16

// Loading is a premium loading schedule in percent:
// Base + PerPoint × (score − tier floor), capped at Max.
type Loading struct {
	Base     decimal.Decimal
	PerPoint decimal.Decimal
	Max      decimal.Decimal
}

func (l Loading) validate(name string) error {
	if l.Base.IsNegative() || l.PerPoint.IsNegative() {
		return domainerrors.Newf(domainerrors.CodeConfiguration, "%s loading coefficients must be non-negative", name)
	}
	if l.Max.LessThan(l.Base) {
		return domainerrors.Newf(domainerrors.CodeConfiguration, "%s loading max %s is below base %s", name, l.Max, l.Base)
	}
	return nil
}

func (l Loading) at(score, floor decimal.Decimal) decimal.Decimal {
	over := decimal.Max(decimal.Zero, score.Sub(floor))
	return decimal.Min(l.Max, l.Base.Add(l.PerPoint.Mul(over))).Round(2)
}

// Policy holds the synthesis coefficients.
type Policy struct {
	EvidenceTrigger *condition.Condition
	Medium          Loading
	High            Loading
	TableStep       decimal.Decimal
	Tiers           risk.TierBounds
}

// Validate checks the coefficients.
func (p Policy) Validate() error {
	if p.EvidenceTrigger == nil {
		return domainerrors.New(domainerrors.CodeConfiguration, "evidence trigger is required")
	}
	if !p.TableStep.IsPositive() {
		return domainerrors.Newf(domainerrors.CodeConfiguration, "table step must be positive, got %s", p.TableStep)
	}
	if err := p.Medium.validate("medium"); err != nil {
		return err
	}
	if err := p.High.validate("high"); err != nil {
		return err
	}
	return p.Tiers.Validate()
}

// Recommendation is the synthesized outcome. PremiumAdjustment is a percent
// loading on the standard premium.
type Recommendation struct {
	Action            Action          `json:"action"`
	Rating            string          `json:"rating"`
	PremiumAdjustment decimal.Decimal `json:"premium_adjustment"`
	Step              rationale.Step  `json:"step"`
}

// Recommend is a pure function of its inputs.
func Recommend(p Policy, tier risk.Tier, chain rationale.Chain) (Recommendation, error) {
	ga, ok := chain.Find(rationale.KindGuidelineAlignment)
	if !ok {
		return Recommendation{}, domainerrors.New(domainerrors.CodeInternal, "recommend: chain has no guideline alignment step")
	}
	score := decimal.NewFromFloat(chain.Score)

	var rec Recommendation
	switch tier {
	case risk.TierLow:
		rec = Recommendation{Action: ActionApprove, Rating: RatingStandard, PremiumAdjustment: decimal.Zero}
	case risk.TierMedium:
		if p.EvidenceTrigger == nil {
			return Recommendation{}, domainerrors.New(domainerrors.CodeConfiguration, "evidence trigger is not configured")
		}
		hit, err := p.EvidenceTrigger.Eval(chain.Facts())
		if err != nil {
			return Recommendation{}, domainerrors.Wrap(err, domainerrors.CodeConfiguration, "evidence trigger")
		}
		if hit {
			rec = Recommendation{Action: ActionRequestEvidence, Rating: RatingPendingEvidence, PremiumAdjustment: decimal.Zero}
			break
		}
		loading := p.Medium.at(score, decimal.NewFromFloat(p.Tiers.MediumFloor))
		rec = Recommendation{Action: ActionApplyRating, Rating: p.TableRating(loading), PremiumAdjustment: loading}
	case risk.TierHigh:
		loading := p.High.at(score, decimal.NewFromFloat(p.Tiers.HighFloor))
		rec = Recommendation{Action: ActionRefer, Rating: p.TableRating(loading), PremiumAdjustment: loading}
	default:
		return Recommendation{}, domainerrors.Newf(domainerrors.CodeValidation, "unknown tier %q", tier)
	}

	rec.Step = rationale.Step{
		Kind: rationale.KindRecommendation,
		Detail: rationale.Detail{
			Summary:   summary(rec, ga.Detail.Guideline),
			Guideline: ga.Detail.Guideline,
			Action:    string(rec.Action),
			Rating:    rec.Rating,
			SignalIDs: slices.Clone(ga.Detail.SignalIDs),
			Sources:   slices.Clone(ga.Detail.Sources),
		},
		Confidence: ga.Confidence,
	}
	return rec, nil
}

// TableRating maps a loading to a substandard table: ceil(loading/step)
// tables, lettered from A. A zero loading is Standard.
func (p Policy) TableRating(loading decimal.Decimal) string {
	if !loading.IsPositive() || !p.TableStep.IsPositive() {
		return RatingStandard
	}
	n := loading.Div(p.TableStep).Ceil().IntPart()
	if n > maxTables {
		n = maxTables
	}
	return fmt.Sprintf("Table %c", rune('A'+n-1))
}

func summary(r Recommendation, guideline string) string {
	switch r.Action {
	case ActionApprove:
		return fmt.Sprintf("Approve at standard rates under %s", guideline)
	case ActionRequestEvidence:
		return fmt.Sprintf("Request additional evidence before rating under %s", guideline)
	case ActionApplyRating:
		return fmt.Sprintf("Apply %s (+%s%% premium) under %s", r.Rating, r.PremiumAdjustment.StringFixed(2), guideline)
	}
	return fmt.Sprintf("Refer to reinsurance at %s (+%s%% premium) under %s", r.Rating, r.PremiumAdjustment.StringFixed(2), guideline)
}
