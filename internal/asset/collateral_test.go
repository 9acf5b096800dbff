package asset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"collateral-watch/internal/oracle"
	"collateral-watch/internal/rates"
	"collateral-watch/internal/status"
)

// seqSource replays a fixed refPerTok sequence, holding the last value.
type seqSource struct {
	values []decimal.Decimal
	err    error
	idx    int
}

func (s *seqSource) RefPerTok(ctx context.Context) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	if s.idx >= len(s.values) {
		return s.values[len(s.values)-1], nil
	}
	v := s.values[s.idx]
	s.idx++
	return v, nil
}

func refs(raw ...string) *seqSource {
	values := make([]decimal.Decimal, 0, len(raw))
	for _, r := range raw {
		values = append(values, decimal.RequireFromString(r))
	}
	return &seqSource{values: values}
}

type collateralFixture struct {
	collateral *Collateral
	pegFeed    *stubFeed
	priceFeed  *stubFeed
}

func newCollateralFixture(t *testing.T, refSource rates.RefPerTokSource, grace time.Duration) *collateralFixture {
	t.Helper()

	pegFeed := &stubFeed{value: decimal.New(1, 0)}
	priceFeed := &stubFeed{value: decimal.New(1, 0)}

	spec := CollateralSpec{
		Spec:         testSpec(),
		TargetName:   "USD",
		PegTolerance: decimal.RequireFromString("0.05"),
	}

	c, err := NewCollateral(
		context.Background(),
		spec,
		refSource,
		testAdapter(pegFeed),
		testAdapter(priceFeed),
		status.NewMachine(status.Policy{GraceWindow: grace}, noopLogger()),
		newTokenCaller(18),
		noopLogger(),
	)
	if err != nil {
		t.Fatalf("construct collateral: %v", err)
	}
	return &collateralFixture{collateral: c, pegFeed: pegFeed, priceFeed: priceFeed}
}

func TestCollateralSoundWhileAppreciating(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00", "1.02", "1.05"), time.Hour)

	for i := 0; i < 3; i++ {
		if _, changed := fix.collateral.Refresh(context.Background()); changed {
			t.Fatalf("refresh %d: unexpected status change", i)
		}
	}
	if got := fix.collateral.Status(); got != status.Sound {
		t.Fatalf("expected SOUND, got %s", got)
	}
	if !fix.collateral.RefPerTok().Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("unexpected refPerTok %s", fix.collateral.RefPerTok())
	}
	if fix.collateral.TargetName() != "USD" {
		t.Fatalf("unexpected target name %s", fix.collateral.TargetName())
	}
}

func TestCollateralRefPerTokDecreaseIsTerminal(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00", "0.98", "1.00"), time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)
	if got := fix.collateral.Status(); got != status.Sound {
		t.Fatalf("expected SOUND after first refresh, got %s", got)
	}

	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Disabled {
		t.Fatalf("refPerTok decrease should disable immediately, got %+v changed=%t", transition, changed)
	}

	// A disabled collateral stays disabled even if the rate recovers.
	if _, changed := fix.collateral.Refresh(ctx); changed {
		t.Fatal("disabled collateral should not transition again")
	}
	if got := fix.collateral.Status(); got != status.Disabled {
		t.Fatalf("DISABLED must be terminal, got %s", got)
	}
	if !fix.collateral.RefPerTok().Equal(decimal.RequireFromString("0.98")) {
		t.Fatalf("refPerTok should freeze at last observed value, got %s", fix.collateral.RefPerTok())
	}
}

func TestCollateralZeroRefPerTokDisables(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00", "0"), time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)
	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Disabled {
		t.Fatalf("zero refPerTok should disable, got %+v changed=%t", transition, changed)
	}
}

func TestCollateralPegDriftAndRecovery(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00"), time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)

	fix.pegFeed.value = decimal.RequireFromString("0.93")
	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Iffy {
		t.Fatalf("peg drift should mark IFFY, got %+v changed=%t", transition, changed)
	}

	fix.pegFeed.value = decimal.RequireFromString("0.99")
	transition, changed = fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Sound {
		t.Fatalf("peg recovery within grace should restore SOUND, got %+v changed=%t", transition, changed)
	}
}

func TestCollateralSoftFaultPastGraceDisables(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00"), 0)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)

	fix.priceFeed.err = errors.New("feed offline")
	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Iffy {
		t.Fatalf("feed outage should mark IFFY first, got %+v changed=%t", transition, changed)
	}

	transition, changed = fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Disabled {
		t.Fatalf("persisting soft fault past the grace window should disable, got %+v changed=%t", transition, changed)
	}
}

func TestCollateralLatePegRecoveryStillDisables(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00"), 0)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)

	fix.pegFeed.value = decimal.RequireFromString("0.90")
	if transition, changed := fix.collateral.Refresh(ctx); !changed || transition.To != status.Iffy {
		t.Fatalf("peg drift should mark IFFY, got %+v changed=%t", transition, changed)
	}

	// the peg comes back only after the window has elapsed; that is a
	// default, not a recovery
	fix.pegFeed.value = decimal.New(1, 0)
	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Disabled {
		t.Fatalf("recovery past the grace window should disable, got %+v changed=%t", transition, changed)
	}
	if got := fix.collateral.Status(); got != status.Disabled {
		t.Fatalf("expected DISABLED, got %s", got)
	}
}

func TestCollateralRefSourceOutageIsSoftFault(t *testing.T) {
	src := refs("1.00")
	fix := newCollateralFixture(t, src, time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)

	src.err = errors.New("rpc down")
	transition, changed := fix.collateral.Refresh(ctx)
	if !changed || transition.To != status.Iffy {
		t.Fatalf("refPerTok source outage is a soft fault, got %+v changed=%t", transition, changed)
	}
	if !fix.collateral.RefPerTok().Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("refPerTok should keep last value across outage, got %s", fix.collateral.RefPerTok())
	}
}

func TestCollateralPriceChain(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.10"), time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)
	fix.pegFeed.value = decimal.RequireFromString("0.99")
	fix.priceFeed.value = decimal.New(2, 0)

	strict, err := fix.collateral.StrictPrice(ctx)
	if err != nil {
		t.Fatalf("strict price: %v", err)
	}
	want := decimal.RequireFromString("2.178") // 2 * 0.99 * 1.10
	if !strict.Equal(want) {
		t.Fatalf("expected %s, got %s", want, strict)
	}

	isFallback, value, err := fix.collateral.Price(ctx, false)
	if err != nil {
		t.Fatalf("price(false): %v", err)
	}
	if isFallback || !value.Equal(strict) {
		t.Fatalf("price(false) must equal strict price, got (%t, %s)", isFallback, value)
	}
}

func TestCollateralPriceFallback(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00"), time.Hour)
	ctx := context.Background()

	fix.collateral.Refresh(ctx)

	fix.pegFeed.err = errors.New("feed offline")
	if _, err := fix.collateral.StrictPrice(ctx); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("strict price with a dead link should fail, got %v", err)
	}

	isFallback, value, err := fix.collateral.Price(ctx, true)
	if err != nil {
		t.Fatalf("price(true): %v", err)
	}
	if !isFallback {
		t.Fatal("degraded link should flag the price as fallback")
	}
	if !value.Equal(decimal.New(1, 0)) {
		t.Fatalf("expected last-good chain price 1, got %s", value)
	}
}

func TestCollateralCapabilityQuery(t *testing.T) {
	fix := newCollateralFixture(t, refs("1.00"), time.Hour)

	var token Token = fix.collateral
	if !token.IsCollateral() {
		t.Fatal("collateral should report the capability")
	}
	c, ok := AsCollateral(token)
	if !ok || c != fix.collateral {
		t.Fatal("capability conversion should recover the collateral")
	}
}
