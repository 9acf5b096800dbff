package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type stubFeed struct {
	reading Reading
	err     error
}

func (f *stubFeed) Read(ctx context.Context) (Reading, error) {
	if f.err != nil {
		return Reading{}, f.err
	}
	return f.reading, nil
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func freshReading(value string) Reading {
	return Reading{Value: decimal.RequireFromString(value), UpdatedAt: time.Now().UTC()}
}

func TestStrictPriceSuccess(t *testing.T) {
	feed := &stubFeed{reading: freshReading("1.05")}
	a := NewAdapter("test", feed, AdapterOptions{MaxAge: time.Hour}, noopLogger())

	value, err := a.StrictPrice(context.Background())
	if err != nil {
		t.Fatalf("strict price should succeed: %v", err)
	}
	if !value.Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("unexpected value %s", value)
	}
}

func TestStrictPriceZeroIsLegitimate(t *testing.T) {
	feed := &stubFeed{reading: freshReading("0")}
	a := NewAdapter("test", feed, AdapterOptions{}, noopLogger())

	value, err := a.StrictPrice(context.Background())
	if err != nil {
		t.Fatalf("zero reading should not be an error: %v", err)
	}
	if !value.IsZero() {
		t.Fatalf("expected zero, got %s", value)
	}
}

func TestStrictPriceFeedError(t *testing.T) {
	feed := &stubFeed{err: errors.New("rpc down")}
	a := NewAdapter("test", feed, AdapterOptions{}, noopLogger())

	if _, err := a.StrictPrice(context.Background()); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestStrictPriceStaleReading(t *testing.T) {
	feed := &stubFeed{reading: Reading{
		Value:     decimal.RequireFromString("1"),
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}}
	a := NewAdapter("test", feed, AdapterOptions{MaxAge: time.Hour}, noopLogger())

	if _, err := a.StrictPrice(context.Background()); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("stale reading should be unavailable, got %v", err)
	}
}

func TestPriceWithoutFallbackMatchesStrict(t *testing.T) {
	feed := &stubFeed{reading: freshReading("0.997")}
	a := NewAdapter("test", feed, AdapterOptions{}, noopLogger())

	strict, strictErr := a.StrictPrice(context.Background())
	isFallback, value, err := a.Price(context.Background(), false)
	if strictErr != nil || err != nil {
		t.Fatalf("both paths should succeed: %v %v", strictErr, err)
	}
	if isFallback {
		t.Fatal("strict success should not be marked fallback")
	}
	if !value.Equal(strict) {
		t.Fatalf("price(false) %s differs from strictPrice %s", value, strict)
	}

	feed.err = errors.New("rpc down")
	if _, _, err := a.Price(context.Background(), false); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("price(false) should fail like strictPrice, got %v", err)
	}
}

func TestPriceFallsBackToLastGood(t *testing.T) {
	feed := &stubFeed{reading: freshReading("1.01")}
	a := NewAdapter("test", feed, AdapterOptions{}, noopLogger())

	if _, err := a.StrictPrice(context.Background()); err != nil {
		t.Fatalf("seed read failed: %v", err)
	}

	feed.err = errors.New("rpc down")
	isFallback, value, err := a.Price(context.Background(), true)
	if err != nil {
		t.Fatalf("fallback path should not fail: %v", err)
	}
	if !isFallback {
		t.Fatal("degraded read should be marked fallback")
	}
	if !value.Equal(decimal.RequireFromString("1.01")) {
		t.Fatalf("expected last good value, got %s", value)
	}
}

func TestPriceFallsBackToPeg(t *testing.T) {
	feed := &stubFeed{err: errors.New("rpc down")}
	a := NewAdapter("test", feed, AdapterOptions{Peg: decimal.New(1, 0)}, noopLogger())

	isFallback, value, err := a.Price(context.Background(), true)
	if err != nil {
		t.Fatalf("peg fallback should not fail: %v", err)
	}
	if !isFallback || !value.Equal(decimal.New(1, 0)) {
		t.Fatalf("expected peg fallback (true, 1), got (%t, %s)", isFallback, value)
	}
}

func TestPriceNoFallbackAvailable(t *testing.T) {
	feed := &stubFeed{err: errors.New("rpc down")}
	a := NewAdapter("test", feed, AdapterOptions{}, noopLogger())

	if _, _, err := a.Price(context.Background(), true); !errors.Is(err, ErrNoFallback) {
		t.Fatalf("expected ErrNoFallback, got %v", err)
	}
}
