package recommend_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/internal/condition"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/recommend"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

var tiers = risk.TierBounds{MediumFloor: 40, HighFloor: 75}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func policy() recommend.Policy {
	return recommend.Policy{
		EvidenceTrigger: condition.MustCompile("adverse.financial > 0 OR adverse.disclosure > 0"),
		Medium:          recommend.Loading{Base: dec("25"), PerPoint: dec("2.5"), Max: dec("100")},
		High:            recommend.Loading{Base: dec("100"), PerPoint: dec("5"), Max: dec("300")},
		TableStep:       dec("25"),
		Tiers:           tiers,
	}
}

func chainFor(t *testing.T, signals ...signal.Signal) rationale.Chain {
	t.Helper()
	snap, err := risk.Aggregate(risk.Policy{
		Weights: risk.WeightTable{
			signal.CategoryBehavioral: {signal.SeverityInfo: 0, signal.SeverityCaution: 8, signal.SeverityAdverse: 20},
			signal.CategoryDisclosure: {signal.SeverityInfo: 0, signal.SeverityCaution: 30, signal.SeverityAdverse: 30},
			signal.CategoryFinancial:  {signal.SeverityInfo: 0, signal.SeverityCaution: 15, signal.SeverityAdverse: 44.44},
			signal.CategoryMedical:    {signal.SeverityInfo: 0, signal.SeverityCaution: 18.75, signal.SeverityAdverse: 45},
		},
		Scale: 100,
		Tiers: tiers,
	}, signals)
	require.NoError(t, err)
	chain, err := rationale.Build(snap, rationale.Profile{Age: 42, Product: "Term 20", FaceAmount: 1_000_000}, rationale.GuidelineTable{
		{Name: "Standard Issue", Tier: risk.TierLow},
		{Name: "Substandard Table", Tier: risk.TierMedium},
		{Name: "Reinsurance Referral", Tier: risk.TierHigh},
	})
	require.NoError(t, err)
	return chain
}

func sig(id string, cat signal.Category, sev signal.Severity, conf float64) signal.Signal {
	return signal.Signal{ID: id, Category: cat, Label: "label " + id, Observed: "1", Severity: sev, Source: "src", Confidence: conf}
}

func TestRecommend_MediumWithAdverseFinancialRequestsEvidence(t *testing.T) {
	chain := chainFor(t,
		sig("inc", signal.CategoryFinancial, signal.SeverityAdverse, 0.9),
		sig("bmi", signal.CategoryMedical, signal.SeverityCaution, 0.8),
	)
	require.Equal(t, risk.TierMedium, chain.Tier)

	rec, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	assert.Equal(t, recommend.ActionRequestEvidence, rec.Action)
	assert.Equal(t, "Pending Evidence", rec.Rating)
	assert.True(t, rec.PremiumAdjustment.IsZero())
	assert.Equal(t, rationale.KindRecommendation, rec.Step.Kind)
	assert.ElementsMatch(t, []string{"inc", "bmi"}, rec.Step.Detail.SignalIDs)
	assert.Equal(t, 85, rec.Step.Confidence)
}

func TestRecommend_MediumWithoutTriggerAppliesRating(t *testing.T) {
	chain := chainFor(t,
		sig("1", signal.CategoryMedical, signal.SeverityCaution, 1),
		sig("2", signal.CategoryMedical, signal.SeverityCaution, 1),
		sig("3", signal.CategoryMedical, signal.SeverityCaution, 1),
	)
	require.Equal(t, 56.25, chain.Score)

	rec, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	assert.Equal(t, recommend.ActionApplyRating, rec.Action)
	assert.Equal(t, "65.63", rec.PremiumAdjustment.StringFixed(2))
	assert.Equal(t, "Table C", rec.Rating)
}

func TestRecommend_HighRefers(t *testing.T) {
	chain := chainFor(t,
		sig("1", signal.CategoryMedical, signal.SeverityAdverse, 1),
		sig("2", signal.CategoryMedical, signal.SeverityAdverse, 1),
	)
	require.Equal(t, risk.TierHigh, chain.Tier)

	rec, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	assert.Equal(t, recommend.ActionRefer, rec.Action)
	assert.Equal(t, "175.00", rec.PremiumAdjustment.StringFixed(2))
	assert.Equal(t, "Table G", rec.Rating)
}

func TestRecommend_EmptyCaseApprovesStandard(t *testing.T) {
	chain := chainFor(t)
	rec, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	assert.Equal(t, recommend.ActionApprove, rec.Action)
	assert.Equal(t, "Standard", rec.Rating)
	assert.True(t, rec.PremiumAdjustment.IsZero())
	assert.Zero(t, rec.Step.Confidence)
}

func TestRecommend_IsPure(t *testing.T) {
	chain := chainFor(t,
		sig("1", signal.CategoryMedical, signal.SeverityAdverse, 1),
		sig("2", signal.CategoryBehavioral, signal.SeverityAdverse, 0.6),
	)
	a, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	b, err := recommend.Recommend(policy(), chain.Tier, chain)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecommend_UnknownTriggerFactIsConfigurationError(t *testing.T) {
	p := policy()
	p.EvidenceTrigger = condition.MustCompile("adverse.astrology > 0")
	chain := chainFor(t, sig("1", signal.CategoryMedical, signal.SeverityAdverse, 1))

	_, err := recommend.Recommend(p, chain.Tier, chain)
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
}

func TestLoadingIsMonotoneAndCapped(t *testing.T) {
	p := policy()
	prev := decimal.Zero
	for score := 75; score <= 100; score++ {
		chain := rationale.Chain{Tier: risk.TierHigh, Score: float64(score)}.Append(rationale.Step{Kind: rationale.KindGuidelineAlignment})
		rec, err := recommend.Recommend(p, risk.TierHigh, chain)
		require.NoError(t, err)
		assert.False(t, rec.PremiumAdjustment.LessThan(prev), "loading decreased at score %d", score)
		assert.False(t, rec.PremiumAdjustment.GreaterThan(p.High.Max), "loading above max at score %d", score)
		prev = rec.PremiumAdjustment
	}
	assert.Equal(t, "225.00", prev.StringFixed(2))
}

func TestTableRating(t *testing.T) {
	p := policy()
	cases := map[string]string{
		"0":     "Standard",
		"25":    "Table A",
		"25.01": "Table B",
		"100":   "Table D",
		"10000": "Table P",
	}
	for loading, want := range cases {
		assert.Equal(t, want, p.TableRating(dec(loading)), "loading %s", loading)
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, policy().Validate())

	noStep := policy()
	noStep.TableStep = decimal.Zero
	assert.ErrorIs(t, noStep.Validate(), domainerrors.ErrConfiguration)

	inverted := policy()
	inverted.High.Max = dec("50")
	assert.ErrorIs(t, inverted.Validate(), domainerrors.ErrConfiguration)

	noTrigger := policy()
	noTrigger.EvidenceTrigger = nil
	assert.ErrorIs(t, noTrigger.Validate(), domainerrors.ErrConfiguration)
}
