package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

var (
	// ErrPriceUnavailable indicates the strict price path could not produce
	// a value. Callers may retry through the fallback path.
	ErrPriceUnavailable = errors.New("oracle: price unavailable")

	// ErrNoFallback indicates both the strict and fallback paths failed.
	ErrNoFallback = errors.New("oracle: no fallback price available")
)

// AdapterOptions tune staleness and fallback behaviour for one feed.
type AdapterOptions struct {
	// MaxAge is the oldest acceptable feed timestamp. Older readings are
	// treated as unavailable on the strict path.
	MaxAge time.Duration
	// Peg, when positive, is the assumed price used as the fallback of last
	// resort (e.g. 1 for a stablecoin feed quoted in its own target).
	Peg decimal.Decimal
}

// Adapter wraps a Feed with the strict/fallback pricing protocol. The strict
// path fails loudly; the fallback path degrades to the last good strict value
// and then to the configured peg assumption.
type Adapter struct {
	feed    Feed
	opts    AdapterOptions
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	mu       sync.Mutex
	lastGood decimal.Decimal
	haveGood bool
}

// NewAdapter constructs a pricing adapter over a feed.
func NewAdapter(name string, feed Feed, opts AdapterOptions, logger zerolog.Logger) *Adapter {
	settings := gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Adapter{
		feed:    feed,
		opts:    opts,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger.With().Str("component", "oracle_adapter").Str("feed", name).Logger(),
	}
}

// StrictPrice attempts the precise upstream read. It fails with
// ErrPriceUnavailable when the feed errors, the breaker is open, or the
// reading is stale. Zero is a legitimate return value, not an error.
func (a *Adapter) StrictPrice(ctx context.Context) (decimal.Decimal, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.feed.Read(ctx)
	})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	reading := out.(Reading)
	if a.opts.MaxAge > 0 && time.Since(reading.UpdatedAt) > a.opts.MaxAge {
		return decimal.Decimal{}, fmt.Errorf("%w: reading stale since %s", ErrPriceUnavailable, reading.UpdatedAt.Format(time.RFC3339))
	}

	a.mu.Lock()
	a.lastGood = reading.Value
	a.haveGood = true
	a.mu.Unlock()

	return reading.Value, nil
}

// Price returns a usable value. With allowFallback=false it behaves exactly
// as StrictPrice. With allowFallback=true it degrades to the last good
// strict value, then the configured peg, and fails only with ErrNoFallback
// when neither exists.
func (a *Adapter) Price(ctx context.Context, allowFallback bool) (bool, decimal.Decimal, error) {
	value, err := a.StrictPrice(ctx)
	if err == nil {
		return false, value, nil
	}
	if !allowFallback {
		return false, decimal.Decimal{}, err
	}

	a.mu.Lock()
	lastGood, haveGood := a.lastGood, a.haveGood
	a.mu.Unlock()

	if haveGood {
		a.logger.Debug().Str("value", lastGood.String()).Msg("falling back to last good price")
		return true, lastGood, nil
	}
	if a.opts.Peg.IsPositive() {
		a.logger.Debug().Str("value", a.opts.Peg.String()).Msg("falling back to peg assumption")
		return true, a.opts.Peg, nil
	}

	return false, decimal.Decimal{}, fmt.Errorf("%w: strict path failed and no last-good or peg configured", ErrNoFallback)
}
