// Package events publishes case transitions to downstream consumers after
// they are committed.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
)

// TransitionEvent describes one committed status change.
type TransitionEvent struct {
	CaseID        string               `json:"case_id"`
	Transition    lifecycle.Transition `json:"transition"`
	Score         float64              `json:"composite_score"`
	Tier          string               `json:"tier"`
	PolicyVersion string               `json:"policy_version"`
	Revision      uint64               `json:"revision"`
	PublishedAt   time.Time            `json:"published_at"`
}

// Publisher delivers transition events. A failed publish never undoes the
// transition; callers log and count it.
type Publisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
	Close() error
}

// LogPublisher writes events to a structured logger. It is the default sink.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev TransitionEvent) error {
	p.logger.InfoContext(ctx, "case transition",
		"case_id", ev.CaseID,
		"seq", ev.Transition.Seq,
		"from", ev.Transition.From,
		"to", ev.Transition.To,
		"action", ev.Transition.Action,
		"actor", ev.Transition.Actor,
		"tier", ev.Tier,
		"score", ev.Score,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
