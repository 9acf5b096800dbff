package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"collateral-watch/internal/app"
)

var (
	simulateRefPerToks    []string
	simulateTargetPerRefs []string
	simulateStepInterval  time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Preview status transitions for a synthetic rate sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := parseDecimals(simulateRefPerToks, "--ref-per-tok")
		if err != nil {
			return err
		}
		pegs, err := parseDecimals(simulateTargetPerRefs, "--target-per-ref")
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{
			RefPerToks:    refs,
			TargetPerRefs: pegs,
			StepInterval:  simulateStepInterval,
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func parseDecimals(values []string, flag string) ([]decimal.Decimal, error) {
	parsed := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", flag, v, err)
		}
		parsed = append(parsed, d)
	}
	return parsed, nil
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulateRefPerToks, "ref-per-tok", nil, "Sequence of refPerTok readings, one per step")
	simulateCmd.Flags().StringSliceVar(&simulateTargetPerRefs, "target-per-ref", nil, "Sequence of targetPerRef readings, one per step")
	simulateCmd.Flags().DurationVar(&simulateStepInterval, "step-interval", 0, "Simulated time between steps (defaults to scheduler interval)")
}
