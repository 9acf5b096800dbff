package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"collateral-watch/internal/storage"
)

type snapshotLister interface {
	ListRecentSnapshots(ctx context.Context, limit int) ([]storage.Snapshot, error)
}

type statusEventLister interface {
	ListRecentStatusEvents(ctx context.Context, limit int) ([]storage.StatusEvent, error)
}

// Show prints recent refresh snapshots, or status transitions with --events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Events {
		return a.showEvents(ctx, store, opts.Limit)
	}
	return a.showSnapshots(ctx, store, opts.Limit)
}

func (a *App) showSnapshots(ctx context.Context, store snapshotLister, limit int) error {
	snaps, err := store.ListRecentSnapshots(ctx, limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tStatus\trefPerTok\ttargetPerRef\tpricePerTarget\tPrice (UoA)\tFallback\tError")

	for _, snap := range snaps {
		errMsg := ""
		if snap.Error != nil {
			errMsg = sanitizeInline(*snap.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			snap.Tick.UTC().Format(time.RFC3339),
			snap.Symbol,
			snap.Status,
			formatDecimal(snap.RefPerTok, 6),
			formatDecimal(snap.TargetPerRef, 6),
			formatDecimal(snap.PricePerTarget, 6),
			formatDecimal(snap.Price, 6),
			snap.PriceFallback,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showEvents(ctx context.Context, store statusEventLister, limit int) error {
	events, err := store.ListRecentStatusEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no status events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tFrom\tTo\tReason")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			event.OccurredAt.UTC().Format(time.RFC3339),
			event.Symbol,
			event.FromStatus,
			event.ToStatus,
			sanitizeInline(event.Reason),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
