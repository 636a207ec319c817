// Package cases holds the underwriting case aggregate and its persistence.
package cases

import (
	"slices"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// ApplicantProfile describes the person and the coverage applied for.
// Amounts are whole currency units; AnnualIncome is zero when not declared.
type ApplicantProfile struct {
	Name         string `json:"name"`
	Age          int    `json:"age"`
	Product      string `json:"product"`
	FaceAmount   int64  `json:"face_amount"`
	AnnualIncome int64  `json:"annual_income,omitempty"`
}

func (p ApplicantProfile) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if p.Age < 0 || p.Age > 120 {
		problems = append(problems, "age must be between 0 and 120")
	}
	if strings.TrimSpace(p.Product) == "" {
		problems = append(problems, "product is required")
	}
	if p.FaceAmount <= 0 {
		problems = append(problems, "face_amount must be positive")
	}
	if p.AnnualIncome < 0 {
		problems = append(problems, "annual_income must not be negative")
	}
	if len(problems) > 0 {
		return domainerrors.New(domainerrors.CodeValidation, "applicant profile: "+strings.Join(problems, "; "))
	}
	return nil
}

// Rationale projects the profile onto the facts the rationale chain uses.
func (p ApplicantProfile) Rationale() rationale.Profile {
	return rationale.Profile{
		Age:          p.Age,
		Product:      p.Product,
		FaceAmount:   p.FaceAmount,
		AnnualIncome: p.AnnualIncome,
	}
}

// Case is the unit of underwriting work. Values handed out by a Repository
// are private copies; mutate a Clone and store it with Update.
type Case struct {
	ID            string                 `json:"id"`
	Profile       ApplicantProfile       `json:"profile"`
	Signals       []signal.Signal        `json:"signals"`
	Status        lifecycle.Status       `json:"status"`
	Snapshot      *risk.Snapshot         `json:"snapshot,omitempty"`
	History       []lifecycle.Transition `json:"history"`
	SignalVersion uint64                 `json:"signal_version"`
	Revision      uint64                 `json:"revision"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Clone returns a deep copy. Signals and snapshots are immutable values, so
// sharing their contents is safe once the slices themselves are copied.
func (c *Case) Clone() *Case {
	out := *c
	out.Signals = slices.Clone(c.Signals)
	out.History = slices.Clone(c.History)
	if c.Snapshot != nil {
		out.Snapshot = c.Snapshot.WithVersion(c.Snapshot.Version)
	}
	return &out
}

// AddSignal adds s to the signal set in canonical order and bumps
// SignalVersion. Signals are immutable: an ID already on the case is a
// validation error and leaves the set untouched.
func (c *Case) AddSignal(s signal.Signal) error {
	if _, ok := c.Signal(s.ID); ok {
		return domainerrors.Newf(domainerrors.CodeValidation, "signal %s already recorded on case %s", s.ID, c.ID)
	}
	signals := slices.Clone(c.Signals)
	i, _ := slices.BinarySearchFunc(signals, s, signal.Compare)
	c.Signals = slices.Insert(signals, i, s)
	c.SignalVersion++
	return nil
}

// Signal returns the signal with the given ID.
func (c *Case) Signal(id string) (signal.Signal, bool) {
	i := slices.IndexFunc(c.Signals, func(x signal.Signal) bool { return x.ID == id })
	if i < 0 {
		return signal.Signal{}, false
	}
	return c.Signals[i], true
}

// SnapshotFresh reports whether the snapshot reflects the current signal set.
func (c *Case) SnapshotFresh() bool {
	return c.Snapshot != nil && c.Snapshot.Version == c.SignalVersion
}

// FlagCount is the number of caution and adverse signals.
func (c *Case) FlagCount() int {
	n := 0
	for _, s := range c.Signals {
		if s.Severity.Flagged() {
			n++
		}
	}
	return n
}

// Record appends a transition and moves the case to its target status.
func (c *Case) Record(t lifecycle.Transition) {
	t.Seq = len(c.History) + 1
	c.History = append(slices.Clone(c.History), t)
	c.Status = t.To
}
