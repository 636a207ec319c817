// Package lifecycle is the case state machine. It is the only code that
// decides which status a case moves to.
package lifecycle

import (
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Status is a case lifecycle state.
type Status string

const (
	StatusNew                   Status = "New"
	StatusInProgress            Status = "InProgress"
	StatusPendingEvidence       Status = "PendingEvidence"
	StatusApproved              Status = "Approved"
	StatusDeclined              Status = "Declined"
	StatusReferredToReinsurance Status = "ReferredToReinsurance"
)

// Statuses lists every state, open states first.
var Statuses = []Status{
	StatusNew, StatusInProgress, StatusPendingEvidence,
	StatusApproved, StatusDeclined, StatusReferredToReinsurance,
}

// Terminal reports whether s is a decisioned state.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusReferredToReinsurance:
		return true
	}
	return false
}

// ParseStatus accepts the canonical names plus the display forms
// ("In Progress", "pending_evidence").
func ParseStatus(v string) (Status, error) {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(v)))
	for _, s := range Statuses {
		if strings.ToLower(string(s)) == key {
			return s, nil
		}
	}
	return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown case status %q", v)
}

// Action names a requested transition.
type Action string

const (
	ActionOpen            Action = "open"
	ActionRequestEvidence Action = "request_evidence"
	ActionReceiveEvidence Action = "receive_evidence"
	ActionApprove         Action = "approve"
	ActionDecline         Action = "decline"
	ActionRefer           Action = "refer"
)

// SystemActor is recorded for transitions the engine applies on its own.
const SystemActor = "system"

type edge struct {
	from       []Status
	to         Status
	needsFresh bool
}

var edges = map[Action]edge{
	ActionOpen:            {from: []Status{StatusNew}, to: StatusInProgress},
	ActionRequestEvidence: {from: []Status{StatusNew, StatusInProgress}, to: StatusPendingEvidence},
	ActionReceiveEvidence: {from: []Status{StatusPendingEvidence}, to: StatusInProgress},
	ActionApprove:         {from: []Status{StatusInProgress}, to: StatusApproved, needsFresh: true},
	ActionDecline:         {from: []Status{StatusInProgress}, to: StatusDeclined, needsFresh: true},
	ActionRefer:           {from: []Status{StatusInProgress}, to: StatusReferredToReinsurance, needsFresh: true},
}

// ParseAction validates an action name.
func ParseAction(v string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := edges[a]; !ok {
		return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown transition action %q", v)
	}
	return a, nil
}

// Decisive reports whether the action moves a case to a terminal state.
func (a Action) Decisive() bool { return edges[a].needsFresh }

// Apply returns the status reached by applying action to status. A decisive
// action requires the snapshot to reflect the current signal set.
func Apply(status Status, action Action, snapshotFresh bool) (Status, error) {
	e, ok := edges[action]
	if !ok {
		return "", domainerrors.Newf(domainerrors.CodeValidation, "unknown transition action %q", action)
	}
	if status.Terminal() {
		return "", domainerrors.Newf(domainerrors.CodeInvalidTransition, "case is %s; no transitions are allowed", status)
	}
	allowed := false
	for _, f := range e.from {
		if f == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", domainerrors.Newf(domainerrors.CodeInvalidTransition, "cannot %s a case in status %s", action, status)
	}
	if e.needsFresh && !snapshotFresh {
		return "", domainerrors.Newf(domainerrors.CodeInvalidTransition, "cannot %s: risk snapshot is stale", action)
	}
	return e.to, nil
}

// CheckMutable rejects signal mutations on decisioned cases.
func CheckMutable(status Status) error {
	if status.Terminal() {
		return domainerrors.Newf(domainerrors.CodeTerminalCase, "case is %s; evidence can no longer be added", status)
	}
	return nil
}

// Transition is one append-only history record. At is informational and
// never used for decisions; Seq orders the history.
type Transition struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Action      Action    `json:"action"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	SnapshotRef *uint64   `json:"snapshot_ref,omitempty"`
	At          time.Time `json:"at"`
}
