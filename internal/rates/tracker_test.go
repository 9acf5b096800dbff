package rates

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTrackerStartsAtUnity(t *testing.T) {
	tr := NewTracker()
	one := decimal.New(1, 0)
	if !tr.RefPerTok().Equal(one) || !tr.TargetPerRef().Equal(one) || !tr.PricePerTarget().Equal(one) {
		t.Fatalf("unexpected initial snapshot: %+v", tr.Snapshot())
	}
}

func TestFirstReadingNeverCountsAsDecrease(t *testing.T) {
	tr := NewTracker()
	if tr.SetRefPerTok(decimal.RequireFromString("0.5")) {
		t.Fatal("priming reading should not count as a decrease")
	}
}

func TestDecreaseDetection(t *testing.T) {
	tr := NewTracker()
	tr.SetRefPerTok(decimal.RequireFromString("1.00"))

	if tr.SetRefPerTok(decimal.RequireFromString("1.02")) {
		t.Fatal("appreciation should not count as a decrease")
	}
	if tr.SetRefPerTok(decimal.RequireFromString("1.02")) {
		t.Fatal("a flat reading should not count as a decrease")
	}
	if !tr.SetRefPerTok(decimal.RequireFromString("0.98")) {
		t.Fatal("a lower reading should count as a decrease")
	}
}

func TestSnapshotReflectsAllLinks(t *testing.T) {
	tr := NewTracker()
	tr.SetRefPerTok(decimal.RequireFromString("1.07"))
	tr.SetTargetPerRef(decimal.RequireFromString("0.999"))
	tr.SetPricePerTarget(decimal.RequireFromString("1850"))

	snap := tr.Snapshot()
	if !snap.RefPerTok.Equal(decimal.RequireFromString("1.07")) {
		t.Fatalf("refPerTok mismatch: %s", snap.RefPerTok)
	}
	if !snap.TargetPerRef.Equal(decimal.RequireFromString("0.999")) {
		t.Fatalf("targetPerRef mismatch: %s", snap.TargetPerRef)
	}
	if !snap.PricePerTarget.Equal(decimal.RequireFromString("1850")) {
		t.Fatalf("pricePerTarget mismatch: %s", snap.PricePerTarget)
	}
}
