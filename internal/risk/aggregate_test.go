package risk_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

func testPolicy() risk.Policy {
	return risk.Policy{
		Weights: risk.WeightTable{
			signal.CategoryBehavioral: {signal.SeverityInfo: 0, signal.SeverityCaution: 8, signal.SeverityAdverse: 20},
			signal.CategoryDisclosure: {signal.SeverityInfo: 0, signal.SeverityCaution: 30, signal.SeverityAdverse: 30},
			signal.CategoryFinancial:  {signal.SeverityInfo: 0, signal.SeverityCaution: 15, signal.SeverityAdverse: 44.44},
			signal.CategoryMedical:    {signal.SeverityInfo: 0, signal.SeverityCaution: 18.75, signal.SeverityAdverse: 45},
		},
		Scale:   100,
		Tiers:   risk.TierBounds{MediumFloor: 40, HighFloor: 75},
		Version: "test-1",
	}
}

func sig(id string, cat signal.Category, label string, sev signal.Severity, conf float64) signal.Signal {
	return signal.Signal{
		ID:         id,
		Category:   cat,
		Label:      label,
		Observed:   "1",
		Severity:   sev,
		Source:     "lab-report",
		Confidence: conf,
	}
}

func TestAggregate_MixedEvidenceScenario(t *testing.T) {
	signals := []signal.Signal{
		sig("a", signal.CategoryFinancial, "Annual Income", signal.SeverityAdverse, 0.9),
		sig("b", signal.CategoryMedical, "BMI", signal.SeverityCaution, 0.8),
	}

	snap, err := risk.Aggregate(testPolicy(), signals)
	require.NoError(t, err)

	assert.Equal(t, 55.0, snap.CompositeScore)
	assert.Equal(t, risk.TierMedium, snap.Tier)
	require.Len(t, snap.Contributions, 2)
	assert.Equal(t, "a", snap.Contributions[0].Signal.ID)
	assert.Equal(t, 40.0, snap.Contributions[0].Contribution)
	assert.Equal(t, 15.0, snap.Contributions[1].Contribution)
	assert.Equal(t, "test-1", snap.PolicyVersion)
}

func TestAggregate_EmptySetIsLowRisk(t *testing.T) {
	snap, err := risk.Aggregate(testPolicy(), nil)
	require.NoError(t, err)
	assert.Zero(t, snap.CompositeScore)
	assert.Equal(t, risk.TierLow, snap.Tier)
	assert.Empty(t, snap.Contributions)
}

func TestAggregate_OrderIndependentAndIdempotent(t *testing.T) {
	signals := []signal.Signal{
		sig("1", signal.CategoryMedical, "Systolic BP", signal.SeverityAdverse, 0.93),
		sig("2", signal.CategoryBehavioral, "Avocation", signal.SeverityCaution, 0.61),
		sig("3", signal.CategoryFinancial, "Income", signal.SeverityCaution, 0.77),
		sig("4", signal.CategoryDisclosure, "Smoking", signal.SeverityAdverse, 0.88),
		sig("5", signal.CategoryMedical, "A1C", signal.SeverityInfo, 0.99),
	}
	want, err := risk.Aggregate(testPolicy(), signals)
	require.NoError(t, err)

	perms := [][]int{{4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}, {1, 3, 0, 4, 2}}
	for _, perm := range perms {
		shuffled := make([]signal.Signal, len(signals))
		for i, j := range perm {
			shuffled[i] = signals[j]
		}
		got, err := risk.Aggregate(testPolicy(), shuffled)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("permutation %v changed the snapshot (-want +got):\n%s", perm, diff)
		}
	}

	again, err := risk.Aggregate(testPolicy(), signals)
	require.NoError(t, err)
	if diff := cmp.Diff(want, again); diff != "" {
		t.Errorf("second run differs (-want +got):\n%s", diff)
	}
}

func TestAggregate_TieBreakByCategoryThenLabel(t *testing.T) {
	p := testPolicy()
	p.Weights[signal.CategoryBehavioral][signal.SeverityCaution] = 15
	signals := []signal.Signal{
		sig("z", signal.CategoryFinancial, "Income", signal.SeverityCaution, 1),
		sig("y", signal.CategoryBehavioral, "Motor Vehicle Report", signal.SeverityCaution, 1),
		sig("x", signal.CategoryBehavioral, "Avocation", signal.SeverityCaution, 1),
	}

	snap, err := risk.Aggregate(p, signals)
	require.NoError(t, err)

	var order []string
	for _, c := range snap.Contributions {
		order = append(order, c.Signal.ID)
	}
	assert.Equal(t, []string{"x", "y", "z"}, order)
}

func TestAggregate_ClampsAtHundred(t *testing.T) {
	var signals []signal.Signal
	for _, id := range []string{"1", "2", "3"} {
		signals = append(signals, sig(id, signal.CategoryMedical, "Condition "+id, signal.SeverityAdverse, 1))
	}
	snap, err := risk.Aggregate(testPolicy(), signals)
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.CompositeScore)
	assert.Equal(t, risk.TierHigh, snap.Tier)
}

func TestAggregate_ScaleNormalizes(t *testing.T) {
	p := testPolicy()
	p.Scale = 200
	snap, err := risk.Aggregate(p, []signal.Signal{
		sig("1", signal.CategoryMedical, "BMI", signal.SeverityAdverse, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 22.5, snap.CompositeScore)
}

func TestAggregate_MissingWeightFailsClosed(t *testing.T) {
	p := testPolicy()
	delete(p.Weights, signal.CategoryBehavioral)

	_, err := risk.Aggregate(p, []signal.Signal{
		sig("1", signal.CategoryBehavioral, "Avocation", signal.SeverityCaution, 0.5),
	})
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
}

func TestTierBounds(t *testing.T) {
	b := risk.TierBounds{MediumFloor: 40, HighFloor: 75}
	cases := map[float64]risk.Tier{
		0:     risk.TierLow,
		39.99: risk.TierLow,
		40:    risk.TierMedium,
		74.99: risk.TierMedium,
		75:    risk.TierHigh,
		100:   risk.TierHigh,
	}
	for score, want := range cases {
		assert.Equal(t, want, b.TierFor(score), "score %v", score)
	}

	assert.ErrorIs(t, risk.TierBounds{MediumFloor: 75, HighFloor: 40}.Validate(), domainerrors.ErrConfiguration)
	assert.ErrorIs(t, risk.TierBounds{MediumFloor: 0, HighFloor: 40}.Validate(), domainerrors.ErrConfiguration)
	assert.ErrorIs(t, risk.TierBounds{MediumFloor: 40, HighFloor: 101}.Validate(), domainerrors.ErrConfiguration)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, testPolicy().Validate())

	inverted := testPolicy()
	inverted.Weights[signal.CategoryMedical][signal.SeverityCaution] = 60
	assert.ErrorIs(t, inverted.Validate(), domainerrors.ErrConfiguration)

	noScale := testPolicy()
	noScale.Scale = 0
	assert.ErrorIs(t, noScale.Validate(), domainerrors.ErrConfiguration)
}

func TestWithVersionCopies(t *testing.T) {
	snap, err := risk.Aggregate(testPolicy(), []signal.Signal{
		sig("1", signal.CategoryMedical, "BMI", signal.SeverityCaution, 1),
	})
	require.NoError(t, err)

	v := snap.WithVersion(7)
	assert.Equal(t, uint64(7), v.Version)
	assert.Zero(t, snap.Version)
	v.Contributions[0].Contribution = 99
	assert.NotEqual(t, 99.0, snap.Contributions[0].Contribution)
}
