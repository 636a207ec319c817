package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/underwriting/internal/cases"
	"github.com/gyaneshwarpardhi/underwriting/internal/engine"
	"github.com/gyaneshwarpardhi/underwriting/internal/events"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/recommend"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
)

var scoreFlags struct {
	policyPath string
	parallel   int
}

var scoreCmd = &cobra.Command{
	Use:   "score <case.json>...",
	Short: "Score case files offline and print snapshot, rationale and recommendation",
	Long: `Reads JSON case files of the form

  {"id": "...", "profile": {...}, "signals": [{observation}, ...]}

and runs them through the engine under the given policy. Nothing is stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreFlags.policyPath, "policy", "configs/policy.yaml", "Path to the policy YAML file")
	f.IntVar(&scoreFlags.parallel, "parallel", 4, "Case files scored concurrently")
}

type caseFile struct {
	ID      string                 `json:"id"`
	Profile cases.ApplicantProfile `json:"profile"`
	Signals []signal.Observation   `json:"signals"`
}

type scoreResult struct {
	File           string                   `json:"file"`
	CaseID         string                   `json:"case_id"`
	Snapshot       *risk.Snapshot           `json:"snapshot"`
	Rationale      rationale.Chain          `json:"rationale"`
	Recommendation recommend.Recommendation `json:"recommendation"`
}

func runScore(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(scoreFlags.policyPath)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	p, err := policy.Load(data)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr())
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng := engine.New(ctx, p, engine.Options{Logger: logger, Publisher: events.NewLogPublisher(logger)})
	defer eng.Shutdown()

	results := make([]scoreResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, scoreFlags.parallel))
	for i, path := range args {
		g.Go(func() error {
			res, err := scoreFile(gctx, eng, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return writeResults(cmd.OutOrStdout(), results)
}

func scoreFile(ctx context.Context, eng *engine.Engine, path string) (scoreResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scoreResult{}, err
	}
	var cf caseFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return scoreResult{}, fmt.Errorf("parse case file: %w", err)
	}
	if cf.ID == "" {
		cf.ID = filepath.Base(path)
	}

	c, err := eng.CreateCase(ctx, engine.NewCase{ID: cf.ID, Profile: cf.Profile})
	if err != nil {
		return scoreResult{}, err
	}
	for _, obs := range cf.Signals {
		if c, err = eng.SubmitSignal(ctx, c.ID, obs); err != nil {
			return scoreResult{}, fmt.Errorf("signal %q: %w", obs.Label, err)
		}
	}
	chain, err := eng.GetRationaleChain(ctx, c.ID)
	if err != nil {
		return scoreResult{}, err
	}
	rec, err := eng.GetRecommendation(ctx, c.ID)
	if err != nil {
		return scoreResult{}, err
	}
	return scoreResult{
		File:           path,
		CaseID:         c.ID,
		Snapshot:       c.Snapshot,
		Rationale:      chain,
		Recommendation: rec,
	}, nil
}

func writeResults(w io.Writer, results []scoreResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
