package cases

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Memory is an in-process Repository. It stores and returns copies so no
// caller can observe or cause a torn case.
type Memory struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

func NewMemory() *Memory {
	return &Memory{cases: make(map[string]*Case)}
}

func (m *Memory) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; ok {
		return domainerrors.Newf(domainerrors.CodeValidation, "case %s already exists", c.ID)
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, domainerrors.Newf(domainerrors.CodeUnknownCase, "case %s not found", id)
	}
	return c.Clone(), nil
}

func (m *Memory) Update(_ context.Context, c *Case, expectedRevision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cases[c.ID]
	if !ok {
		return domainerrors.Newf(domainerrors.CodeUnknownCase, "case %s not found", c.ID)
	}
	if cur.Revision != expectedRevision {
		return domainerrors.Newf(domainerrors.CodeConcurrentModification,
			"case %s was modified concurrently (revision %d, expected %d)", c.ID, cur.Revision, expectedRevision)
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *Memory) List(_ context.Context) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Case, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *Case) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
