package asset

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
	"collateral-watch/internal/oracle"
	"collateral-watch/internal/rates"
	"collateral-watch/internal/status"
)

// CollateralSpec extends an asset spec with the ratio chain and default
// detection policy.
type CollateralSpec struct {
	Spec
	// TargetName is the opaque identifier for the abstract unit this
	// collateral tracks, e.g. "USD". Callers group baskets by it; this
	// layer never interprets it.
	TargetName string
	// PegTolerance is the maximum |targetPerRef - 1| before the peg is
	// considered drifted. Zero disables the check.
	PegTolerance decimal.Decimal
}

// Collateral wraps an appreciating or peg-tracking token. It extends Asset
// with the refPerTok/targetPerRef/pricePerTarget chain and the
// SOUND/IFFY/DISABLED default state machine. Refresh is the only mutator.
type Collateral struct {
	Asset

	targetName   string
	pegTolerance decimal.Decimal

	refSource      rates.RefPerTokSource
	targetPerRef   *oracle.Adapter
	pricePerTarget *oracle.Adapter

	tracker *rates.Tracker
	machine *status.Machine

	refreshMux sync.Mutex
}

// NewCollateral constructs a collateral wrapper. Decimals are validated
// against the token exactly as for plain assets.
func NewCollateral(
	ctx context.Context,
	spec CollateralSpec,
	refSource rates.RefPerTokSource,
	targetPerRef, pricePerTarget *oracle.Adapter,
	machine *status.Machine,
	caller chain.Caller,
	logger zerolog.Logger,
) (*Collateral, error) {
	base, err := NewAsset(ctx, spec.Spec, nil, caller, logger)
	if err != nil {
		return nil, err
	}

	return &Collateral{
		Asset:          *base,
		targetName:     spec.TargetName,
		pegTolerance:   spec.PegTolerance,
		refSource:      refSource,
		targetPerRef:   targetPerRef,
		pricePerTarget: pricePerTarget,
		tracker:        rates.NewTracker(),
		machine:        machine,
	}, nil
}

// IsCollateral reports true.
func (c *Collateral) IsCollateral() bool { return true }

// TargetName reports the abstract unit this collateral tracks.
func (c *Collateral) TargetName() string { return c.targetName }

// Status reports the current default classification.
func (c *Collateral) Status() status.Status {
	c.refreshMux.Lock()
	defer c.refreshMux.Unlock()
	return c.machine.Status()
}

// RefPerTok reports reference units per token as of the last refresh.
func (c *Collateral) RefPerTok() decimal.Decimal { return c.tracker.RefPerTok() }

// TargetPerRef reports target units per reference unit as of the last refresh.
func (c *Collateral) TargetPerRef() decimal.Decimal { return c.tracker.TargetPerRef() }

// PricePerTarget reports UoA per target unit as of the last refresh.
func (c *Collateral) PricePerTarget() decimal.Decimal { return c.tracker.PricePerTarget() }

// Refresh pulls fresh ratios, classifies faults, and advances the status
// machine. It never returns an error: upstream failures are absorbed into
// status transitions. The returned transition, when taken, lets callers
// record and alert on the change. Refreshing disabled collateral is a no-op.
func (c *Collateral) Refresh(ctx context.Context) (status.Transition, bool) {
	c.refreshMux.Lock()
	defer c.refreshMux.Unlock()

	if c.machine.Status() == status.Disabled {
		return status.Transition{}, false
	}

	obs := status.Observation{At: time.Now().UTC()}

	if ref, err := c.refSource.RefPerTok(ctx); err != nil {
		obs.Soft("refPerTok source unavailable: " + err.Error())
	} else {
		rates.ObserveRefPerTok(c.tracker, &obs, ref)
	}

	if tpr, err := c.targetPerRef.StrictPrice(ctx); err != nil {
		obs.Soft("target/ref feed unavailable")
	} else {
		rates.ObserveTargetPerRef(c.tracker, &obs, tpr, c.pegTolerance)
	}

	if ppt, err := c.pricePerTarget.StrictPrice(ctx); err != nil {
		obs.Soft("UoA/target feed unavailable")
	} else {
		c.tracker.SetPricePerTarget(ppt)
	}

	return c.machine.Observe(obs)
}

// StrictPrice computes UoA/tok from strict reads of both feed links and the
// last refreshed refPerTok. Either link failing fails the whole read with
// oracle.ErrPriceUnavailable.
func (c *Collateral) StrictPrice(ctx context.Context) (decimal.Decimal, error) {
	tpr, err := c.targetPerRef.StrictPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ppt, err := c.pricePerTarget.StrictPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return ppt.Mul(tpr).Mul(c.tracker.RefPerTok()), nil
}

// Price computes UoA/tok, allowing each feed link to degrade to its fallback
// when allowFallback is set. isFallback reports whether any link fell back.
func (c *Collateral) Price(ctx context.Context, allowFallback bool) (bool, decimal.Decimal, error) {
	fb1, tpr, err := c.targetPerRef.Price(ctx, allowFallback)
	if err != nil {
		return false, decimal.Decimal{}, err
	}
	fb2, ppt, err := c.pricePerTarget.Price(ctx, allowFallback)
	if err != nil {
		return false, decimal.Decimal{}, err
	}
	return fb1 || fb2, ppt.Mul(tpr).Mul(c.tracker.RefPerTok()), nil
}

var _ Token = (*Collateral)(nil)
