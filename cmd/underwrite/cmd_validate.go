package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate [policy.yaml]",
	Short: "Validate a policy file and print its guideline tables",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := "configs/policy.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	p, err := policy.Load(data)
	if err != nil {
		return err
	}
	sum := p.Summary()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Policy %s is valid\n", sum.Version)
	fmt.Fprintf(out, "Tiers: Medium from %.2f, High from %.2f\n", sum.Tiers.MediumFloor, sum.Tiers.HighFloor)
	fmt.Fprintf(out, "Evidence trigger: %s\n\n", sum.Trigger)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tGUIDELINE\tWHEN")
	for _, g := range sum.Guidelines {
		when := g.When
		if when == "" {
			when = "(fallback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", g.Tier, g.Name, when)
	}
	return tw.Flush()
}
