package rates

import (
	"github.com/shopspring/decimal"

	"collateral-watch/internal/status"
)

var one = decimal.New(1, 0)

// ObserveRefPerTok stores a fresh refPerTok reading and records the fault it
// implies: a zero or decreased ratio is an unambiguous default. Zero readings
// are not stored so the tracker keeps the last usable value.
func ObserveRefPerTok(t *Tracker, obs *status.Observation, value decimal.Decimal) {
	if value.IsZero() {
		obs.Hard("refPerTok reported zero")
		return
	}
	if decreased := t.SetRefPerTok(value); decreased {
		obs.Hard("refPerTok decreased")
	}
}

// ObserveTargetPerRef stores a fresh targetPerRef reading and records drift
// beyond the peg tolerance as a recoverable fault. A zero tolerance disables
// the check.
func ObserveTargetPerRef(t *Tracker, obs *status.Observation, value, tolerance decimal.Decimal) {
	t.SetTargetPerRef(value)
	if tolerance.IsPositive() && value.Sub(one).Abs().GreaterThan(tolerance) {
		obs.Soft("peg drift beyond tolerance")
	}
}
