package status

import (
	"time"

	"github.com/rs/zerolog"
)

// Status is the collateral default-risk classification. The values form a
// total order: Sound < Iffy < Disabled.
type Status uint8

const (
	// Sound means no fault is currently observed.
	Sound Status = iota
	// Iffy means a soft fault is observed and a grace window is running.
	Iffy
	// Disabled is terminal: the collateral has defaulted.
	Disabled
)

// String renders the status for logs and persistence.
func (s Status) String() string {
	switch s {
	case Sound:
		return "SOUND"
	case Iffy:
		return "IFFY"
	case Disabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Worse reports whether s is a riskier classification than other.
func (s Status) Worse(other Status) bool {
	return s > other
}

// Policy holds the configured transition thresholds. Both values are policy
// parameters, never constants.
type Policy struct {
	// GraceWindow is how long a soft fault may persist before the
	// collateral is disabled.
	GraceWindow time.Duration
}

// Observation is one refresh cycle's worth of fault signals.
type Observation struct {
	// HardFault marks an unambiguous default, e.g. a refPerTok decrease.
	HardFault bool
	// SoftFault marks a recoverable anomaly, e.g. peg drift beyond
	// tolerance or an unavailable feed.
	SoftFault bool
	// Reason describes the triggering signal for auditing.
	Reason string
	// At is the observation time used against the grace window.
	At time.Time
}

// Soft records a recoverable fault. The first reason of a cycle wins so the
// earliest signal is what gets audited.
func (o *Observation) Soft(reason string) {
	o.SoftFault = true
	if o.Reason == "" {
		o.Reason = reason
	}
}

// Hard records an unambiguous default. Hard reasons overwrite soft ones.
func (o *Observation) Hard(reason string) {
	o.HardFault = true
	o.Reason = reason
}

// Transition records a state change for event consumers.
type Transition struct {
	From       Status
	To         Status
	Reason     string
	OccurredAt time.Time
}

// Machine is the 3-state default detector driven by refresh observations.
// Once Disabled it never leaves that state.
type Machine struct {
	policy    Policy
	logger    zerolog.Logger
	current   Status
	iffySince time.Time
}

// NewMachine builds a machine starting in Sound.
func NewMachine(policy Policy, logger zerolog.Logger) *Machine {
	return &Machine{
		policy:  policy,
		logger:  logger.With().Str("component", "status_machine").Logger(),
		current: Sound,
	}
}

// Status reports the current classification.
func (m *Machine) Status() Status {
	return m.current
}

// Observe applies one refresh observation and returns the transition taken,
// if any. Observations against a Disabled machine are no-ops.
func (m *Machine) Observe(obs Observation) (Transition, bool) {
	if m.current == Disabled {
		return Transition{}, false
	}

	if obs.HardFault {
		return m.transition(Disabled, obs), true
	}

	switch m.current {
	case Sound:
		if obs.SoftFault {
			m.iffySince = obs.At
			return m.transition(Iffy, obs), true
		}
	case Iffy:
		// The deadline is checked before the recovery path: a fault that
		// was never observed to clear inside the window has defaulted,
		// even if the current observation is clean.
		if obs.At.Sub(m.iffySince) >= m.policy.GraceWindow {
			if obs.SoftFault {
				obs.Reason = "soft fault persisted beyond grace window: " + obs.Reason
			} else {
				obs.Reason = "soft fault did not clear within grace window"
			}
			return m.transition(Disabled, obs), true
		}
		if !obs.SoftFault {
			return m.transition(Sound, obs), true
		}
	}

	return Transition{}, false
}

func (m *Machine) transition(to Status, obs Observation) Transition {
	tr := Transition{From: m.current, To: to, Reason: obs.Reason, OccurredAt: obs.At}
	m.current = to

	event := m.logger.Info()
	if to == Disabled {
		event = m.logger.Warn()
	}
	event.Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("reason", tr.Reason).
		Msg("collateral status transition")

	return tr
}
