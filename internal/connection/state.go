// Package connection implements the connection-liveness state machine:
// OK/FAILED transitions driven by probe outcomes, stale-data tolerance, and
// the failsafe rule that treats a silent UPS while on battery as critical.
package connection

import (
	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/nut"
)

// State is the connection-liveness state.
type State int

const (
	OK State = iota
	FAILED
)

func (s State) String() string {
	if s == FAILED {
		return "FAILED"
	}
	return "OK"
}

// Event is one connection-state transition event surfaced to the Dispatcher.
type Event string

const (
	EventConnectionLost      Event = "CONNECTION_LOST"
	EventConnectionRestored  Event = "CONNECTION_RESTORED"
	EventFailsafeTriggered   Event = "FAILSAFE_TRIGGERED"
)

// Result is the outcome of feeding one probe outcome through the machine.
type Result struct {
	State    State
	Events   []Event
	Failsafe bool // true iff the failsafe rule fired on this tick (spec §4.3)
}

// Machine tracks connection state and stale-sample tolerance across ticks.
// Not safe for concurrent use; the supervisor owns exactly one Machine and
// drives it from its single tick loop (spec §5).
type Machine struct {
	tolerance int
	log       zerolog.Logger

	state          State
	staleCount     int
	wasOnBattery   bool // previous sampled status contained OB (spec §4.3 failsafe rule)
}

// New creates a Machine that declares the connection FAILED on the
// tolerance-th consecutive Stale outcome; earlier Stale outcomes only warn.
// The machine starts OK.
func New(tolerance int, log zerolog.Logger) *Machine {
	return &Machine{tolerance: tolerance, log: log, state: OK}
}

// State reports the current connection state.
func (m *Machine) State() State {
	return m.state
}

// StaleCount reports the current consecutive-stale counter, which always
// lies in [0, tolerance] per spec §8 invariant 1.
func (m *Machine) StaleCount() int {
	return m.staleCount
}

// Observe feeds one probe outcome through the state machine, given whether
// the previously sampled status carried OB. It returns the new state, any
// events to surface, and whether the failsafe rule fired.
func (m *Machine) Observe(outcome nut.Outcome, previousWasOnBattery bool) Result {
	m.wasOnBattery = previousWasOnBattery
	switch m.state {
	case OK:
		return m.observeFromOK(outcome)
	default:
		return m.observeFromFailed(outcome)
	}
}

func (m *Machine) observeFromOK(outcome nut.Outcome) Result {
	switch outcome {
	case nut.Ok:
		m.staleCount = 0
		return Result{State: OK}

	case nut.Stale:
		m.staleCount++
		if m.staleCount < m.tolerance {
			m.log.Warn().Int("stale_count", m.staleCount).Int("tolerance", m.tolerance).
				Msg("connection: stale probe data")
			return Result{State: OK}
		}
		m.state = FAILED
		failsafe := m.wasOnBattery
		events := []Event{EventConnectionLost}
		if failsafe {
			events = append(events, EventFailsafeTriggered)
		}
		return Result{State: FAILED, Events: events, Failsafe: failsafe}

	default: // nut.Unreachable
		m.staleCount = 0
		m.state = FAILED
		failsafe := m.wasOnBattery
		events := []Event{EventConnectionLost}
		if failsafe {
			events = append(events, EventFailsafeTriggered)
		}
		return Result{State: FAILED, Events: events, Failsafe: failsafe}
	}
}

func (m *Machine) observeFromFailed(outcome nut.Outcome) Result {
	if outcome == nut.Ok {
		m.staleCount = 0
		m.state = OK
		return Result{State: OK, Events: []Event{EventConnectionRestored}}
	}
	// Stale/Unreachable while already FAILED: silent, per spec §4.3 table.
	return Result{State: FAILED}
}
