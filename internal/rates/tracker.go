package rates

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Snapshot is the ratio chain token -> reference -> target -> UoA as of one
// refresh.
type Snapshot struct {
	RefPerTok      decimal.Decimal
	TargetPerRef   decimal.Decimal
	PricePerTarget decimal.Decimal
}

// Tracker holds the last refreshed ratio chain and detects refPerTok decay.
// It supplies raw ratios and their trend only; classifying a decrease as a
// default is the status machine's job.
type Tracker struct {
	mu     sync.Mutex
	snap   Snapshot
	primed bool
}

// NewTracker starts a tracker with every link at 1. Callers must refresh
// before trusting any read.
func NewTracker() *Tracker {
	one := decimal.New(1, 0)
	return &Tracker{snap: Snapshot{RefPerTok: one, TargetPerRef: one, PricePerTarget: one}}
}

// RefPerTok reports reference units per token as of the last refresh.
func (t *Tracker) RefPerTok() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.RefPerTok
}

// TargetPerRef reports target units per reference unit as of the last refresh.
func (t *Tracker) TargetPerRef() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.TargetPerRef
}

// PricePerTarget reports UoA per target unit as of the last refresh.
func (t *Tracker) PricePerTarget() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.PricePerTarget
}

// Snapshot reports all three links atomically.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// SetRefPerTok stores a fresh refPerTok reading and reports whether it
// decreased relative to the previous one. The very first reading primes the
// tracker and never counts as a decrease.
func (t *Tracker) SetRefPerTok(value decimal.Decimal) (decreased bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	decreased = t.primed && value.LessThan(t.snap.RefPerTok)
	t.snap.RefPerTok = value
	t.primed = true
	return decreased
}

// SetTargetPerRef stores a fresh targetPerRef reading.
func (t *Tracker) SetTargetPerRef(value decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.TargetPerRef = value
}

// SetPricePerTarget stores a fresh pricePerTarget reading.
func (t *Tracker) SetPricePerTarget(value decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.PricePerTarget = value
}
