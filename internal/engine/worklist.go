package engine

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
)

// WorklistFilter narrows the worklist. Zero fields match everything; closed
// cases are only listed when IncludeClosed is set or Status names one.
type WorklistFilter struct {
	Status        lifecycle.Status
	Tier          risk.Tier
	IncludeClosed bool
}

// WorklistItem is one row of the underwriter's priority queue.
type WorklistItem struct {
	CaseID    string           `json:"case_id"`
	Applicant string           `json:"applicant"`
	Product   string           `json:"product"`
	Status    lifecycle.Status `json:"status"`
	Score     float64          `json:"composite_score"`
	Tier      risk.Tier        `json:"tier"`
	Flags     int              `json:"flags"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Worklist lists cases by composite score, then flag count, both descending,
// then case ID.
func (e *Engine) Worklist(ctx context.Context, f WorklistFilter) ([]WorklistItem, error) {
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]WorklistItem, 0, len(all))
	for _, c := range all {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Status == "" && !f.IncludeClosed && c.Status.Terminal() {
			continue
		}
		it := WorklistItem{
			CaseID:    c.ID,
			Applicant: c.Profile.Name,
			Product:   c.Profile.Product,
			Status:    c.Status,
			Tier:      risk.TierLow,
			Flags:     c.FlagCount(),
			UpdatedAt: c.UpdatedAt,
		}
		if c.Snapshot != nil {
			it.Score = c.Snapshot.CompositeScore
			it.Tier = c.Snapshot.Tier
		}
		if f.Tier != "" && it.Tier != f.Tier {
			continue
		}
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b WorklistItem) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Flags, a.Flags); c != 0 {
			return c
		}
		return cmp.Compare(a.CaseID, b.CaseID)
	})
	return items, nil
}
