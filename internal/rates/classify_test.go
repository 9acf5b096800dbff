package rates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"collateral-watch/internal/status"
)

func TestObserveRefPerTokClassifiesHardFaults(t *testing.T) {
	tracker := NewTracker()

	obs := status.Observation{At: time.Now().UTC()}
	ObserveRefPerTok(tracker, &obs, decimal.RequireFromString("1.05"))
	if obs.HardFault || obs.SoftFault {
		t.Fatalf("first reading should be clean, got %+v", obs)
	}

	obs = status.Observation{}
	ObserveRefPerTok(tracker, &obs, decimal.Zero)
	if !obs.HardFault || obs.Reason != "refPerTok reported zero" {
		t.Fatalf("zero reading should be a hard fault, got %+v", obs)
	}
	if !tracker.RefPerTok().Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("zero reading should not be stored, got %s", tracker.RefPerTok())
	}

	obs = status.Observation{}
	ObserveRefPerTok(tracker, &obs, decimal.RequireFromString("1.04"))
	if !obs.HardFault || obs.Reason != "refPerTok decreased" {
		t.Fatalf("decrease should be a hard fault, got %+v", obs)
	}
}

func TestObserveTargetPerRefClassifiesDrift(t *testing.T) {
	tracker := NewTracker()
	tolerance := decimal.RequireFromString("0.05")

	obs := status.Observation{}
	ObserveTargetPerRef(tracker, &obs, decimal.RequireFromString("0.97"), tolerance)
	if obs.SoftFault {
		t.Fatal("drift inside tolerance should be clean")
	}

	obs = status.Observation{}
	ObserveTargetPerRef(tracker, &obs, decimal.RequireFromString("0.93"), tolerance)
	if !obs.SoftFault || obs.Reason != "peg drift beyond tolerance" {
		t.Fatalf("drift beyond tolerance should be a soft fault, got %+v", obs)
	}
	if !tracker.TargetPerRef().Equal(decimal.RequireFromString("0.93")) {
		t.Fatalf("drifted reading should still be stored, got %s", tracker.TargetPerRef())
	}

	obs = status.Observation{}
	ObserveTargetPerRef(tracker, &obs, decimal.RequireFromString("0.93"), decimal.Zero)
	if obs.SoftFault {
		t.Fatal("zero tolerance should disable the drift check")
	}
}

func TestHardReasonOverridesSoft(t *testing.T) {
	tracker := NewTracker()
	tracker.SetRefPerTok(decimal.New(1, 0))

	obs := status.Observation{}
	ObserveTargetPerRef(tracker, &obs, decimal.RequireFromString("0.80"), decimal.RequireFromString("0.05"))
	ObserveRefPerTok(tracker, &obs, decimal.RequireFromString("0.90"))
	if !obs.HardFault || !obs.SoftFault {
		t.Fatalf("both faults should be recorded, got %+v", obs)
	}
	if obs.Reason != "refPerTok decreased" {
		t.Fatalf("hard reason should win, got %q", obs.Reason)
	}
}
