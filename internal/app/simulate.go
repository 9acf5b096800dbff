package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"collateral-watch/internal/rates"
	"collateral-watch/internal/status"
)

// Simulate feeds a synthetic sequence of refPerTok and targetPerRef readings
// through a fresh tracker and status machine using the configured default
// policy, printing the transition each step would take. Useful for tuning
// peg tolerance and grace window before pointing the monitor at mainnet.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.RefPerToks) == 0 && len(opts.TargetPerRefs) == 0 {
		return errors.New("at least one of --ref-per-tok or --target-per-ref sequences is required")
	}

	steps := len(opts.RefPerToks)
	if len(opts.TargetPerRefs) > steps {
		steps = len(opts.TargetPerRefs)
	}

	interval := opts.StepInterval
	if interval <= 0 {
		interval = a.Config.Scheduler.Interval
	}

	tolerance := decimal.NewFromFloat(a.Config.Defaults.PegTolerancePct).Div(hundred)
	machine := status.NewMachine(status.Policy{GraceWindow: a.Config.Defaults.GraceWindow}, a.Logger)
	tracker := rates.NewTracker()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Step\trefPerTok\ttargetPerRef\tStatus\tTransition")

	now := time.Now().UTC()
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ref := tracker.RefPerTok()
		if i < len(opts.RefPerToks) {
			ref = opts.RefPerToks[i]
		}
		peg := tracker.TargetPerRef()
		if i < len(opts.TargetPerRefs) {
			peg = opts.TargetPerRefs[i]
		}

		// the exact classification Refresh applies, minus the live feeds
		obs := status.Observation{At: now.Add(time.Duration(i) * interval)}
		rates.ObserveRefPerTok(tracker, &obs, ref)
		rates.ObserveTargetPerRef(tracker, &obs, peg, tolerance)

		transition, changed := machine.Observe(obs)
		note := "-"
		if changed {
			note = fmt.Sprintf("%s -> %s (%s)", transition.From, transition.To, transition.Reason)
		}

		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", i+1, ref.String(), peg.String(), machine.Status(), note)
	}

	writer.Flush()
	return nil
}
