package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

func newTestCase(id string) *Case {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &Case{
		ID:        id,
		Profile:   ApplicantProfile{Name: "Dana Whitfield", Age: 42, Product: "Term 20", FaceAmount: 1_500_000, AnnualIncome: 110_000},
		Status:    lifecycle.StatusNew,
		Snapshot:  &risk.Snapshot{Tier: risk.TierLow, Contributions: []risk.Contribution{}},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// runRepositoryContract exercises the behavior every Repository must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		c := newTestCase("case-create")
		require.NoError(t, repo.Create(ctx, c))

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Profile, got.Profile)
		assert.Equal(t, lifecycle.StatusNew, got.Status)
		assert.Equal(t, uint64(1), got.Revision)
		assert.Empty(t, got.History)

		err = repo.Create(ctx, c)
		assert.ErrorIs(t, err, domainerrors.ErrValidation)
	})

	t.Run("unknown case", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, domainerrors.ErrUnknownCase)

		err = repo.Update(ctx, newTestCase("missing"), 1)
		assert.ErrorIs(t, err, domainerrors.ErrUnknownCase)
	})

	t.Run("update is compare and swap", func(t *testing.T) {
		c := newTestCase("case-cas")
		require.NoError(t, repo.Create(ctx, c))

		next := c.Clone()
		require.NoError(t, next.AddSignal(signal.Signal{ID: "s1", Category: signal.CategoryMedical, Label: "BMI", Observed: "31.2",
			Severity: signal.SeverityCaution, Source: "paramedical-exam", Confidence: 0.8}))
		next.Snapshot = next.Snapshot.WithVersion(next.SignalVersion)
		next.Record(lifecycle.Transition{ID: "t1", From: lifecycle.StatusNew, To: lifecycle.StatusInProgress,
			Action: lifecycle.ActionOpen, Actor: "uw-17", At: c.CreatedAt})
		next.Revision = 2
		require.NoError(t, repo.Update(ctx, next, 1))

		stale := c.Clone()
		stale.Revision = 2
		err := repo.Update(ctx, stale, 1)
		assert.ErrorIs(t, err, domainerrors.ErrConcurrentModification)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Revision)
		assert.Equal(t, lifecycle.StatusInProgress, got.Status)
		require.Len(t, got.Signals, 1)
		assert.Equal(t, "s1", got.Signals[0].ID)
		require.Len(t, got.History, 1)
		assert.Equal(t, 1, got.History[0].Seq)
		assert.Equal(t, "uw-17", got.History[0].Actor)
		assert.True(t, got.SnapshotFresh())
	})

	t.Run("list", func(t *testing.T) {
		all, err := repo.List(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, c := range all {
			ids = append(ids, c.ID)
		}
		assert.Subset(t, ids, []string{"case-cas", "case-create"})
	})
}
