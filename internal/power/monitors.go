// Package power implements the four edge-triggered power-state monitors —
// voltage quality, AVR, bypass, and overload — evaluated once per tick
// against the current Sample (spec §4.4).
package power

import "github.com/sweeney/ups-guardian/internal/nut"

// VoltageState is the line-voltage quality state.
type VoltageState int

const (
	VoltageNormal VoltageState = iota
	VoltageLow
	VoltageHigh
)

// AVRState is the automatic voltage regulation state.
type AVRState int

const (
	AVRInactive AVRState = iota
	AVRBoost
	AVRTrim
)

// Event is one power-state transition surfaced to the Dispatcher. Events
// marked "log only" in spec §4.4 (VOLTAGE_NORMALIZED, AVR_INACTIVE) are
// still returned here; callers decide whether to forward them to the
// Dispatcher or just log them (spec says they are logged but not dispatched).
type Event string

const (
	EventBrownoutDetected    Event = "BROWNOUT_DETECTED"
	EventOverVoltageDetected Event = "OVER_VOLTAGE_DETECTED"
	EventVoltageNormalized   Event = "VOLTAGE_NORMALIZED"
	EventAVRBoostActive      Event = "AVR_BOOST_ACTIVE"
	EventAVRTrimActive       Event = "AVR_TRIM_ACTIVE"
	EventAVRInactive         Event = "AVR_INACTIVE"
	EventBypassModeActive    Event = "BYPASS_MODE_ACTIVE"
	EventBypassModeInactive  Event = "BYPASS_MODE_INACTIVE"
	EventOverloadActive      Event = "OVERLOAD_ACTIVE"
	EventOverloadResolved    Event = "OVERLOAD_RESOLVED"
)

// DispatchOnly reports whether an event should be forwarded to the
// Dispatcher, as opposed to logged only (spec §4.4: VOLTAGE_NORMALIZED and
// AVR_INACTIVE are logged but never pushed to the Dispatcher).
func (e Event) DispatchOnly() bool {
	return e != EventVoltageNormalized && e != EventAVRInactive
}

// State is the cross-tick memory for all four monitors (subset of
// MonitorState, spec §3).
type State struct {
	Voltage VoltageState
	AVR     AVRState
	Bypass  bool
	Overload bool
}

// Thresholds holds the startup-derived voltage warning bounds (spec §3:
// voltage_warning_low_v, voltage_warning_high_v — derived once, never
// re-derived, per the spec's Open-Question resolution).
type Thresholds struct {
	WarningLowV  float64
	WarningHighV float64
}

// Evaluate runs all four monitors against s and the previous state, and
// returns the new state plus any events emitted on this tick. latched
// suppresses all emission (spec §4.4: "suppress while ShutdownLatch is
// set"), though the returned state still reflects reality.
func Evaluate(s nut.Sample, prev State, th Thresholds, latched bool) (State, []Event) {
	next := State{}
	var events []Event

	next.Voltage, events = evaluateVoltage(s, prev.Voltage, th, events)
	next.AVR, events = evaluateAVR(s, prev.AVR, events)
	next.Bypass, events = evaluateBypass(s, prev.Bypass, events)
	next.Overload, events = evaluateOverload(s, prev.Overload, events)

	if latched {
		return next, nil
	}
	return next, events
}

func evaluateVoltage(s nut.Sample, prev VoltageState, th Thresholds, events []Event) (VoltageState, []Event) {
	var state VoltageState
	switch {
	case s.HasStatus("OB") || s.HasStatus("FSD"):
		// Input reading is meaningless once we've switched to battery.
		state = VoltageNormal
	case !s.InputVoltageV.Valid:
		state = prev
	case s.InputVoltageV.Value < th.WarningLowV:
		state = VoltageLow
	case s.InputVoltageV.Value > th.WarningHighV:
		state = VoltageHigh
	default:
		state = VoltageNormal
	}

	if state == prev {
		return state, events
	}
	switch state {
	case VoltageLow:
		events = append(events, EventBrownoutDetected)
	case VoltageHigh:
		events = append(events, EventOverVoltageDetected)
	case VoltageNormal:
		events = append(events, EventVoltageNormalized)
	}
	return state, events
}

func evaluateAVR(s nut.Sample, prev AVRState, events []Event) (AVRState, []Event) {
	var state AVRState
	switch {
	case s.HasStatus("BOOST"):
		state = AVRBoost
	case s.HasStatus("TRIM"):
		state = AVRTrim
	default:
		state = AVRInactive
	}

	if state == prev {
		return state, events
	}
	switch state {
	case AVRBoost:
		events = append(events, EventAVRBoostActive)
	case AVRTrim:
		events = append(events, EventAVRTrimActive)
	case AVRInactive:
		events = append(events, EventAVRInactive)
	}
	return state, events
}

func evaluateBypass(s nut.Sample, prev bool, events []Event) (bool, []Event) {
	active := s.HasStatus("BYPASS")
	if active == prev {
		return active, events
	}
	if active {
		events = append(events, EventBypassModeActive)
	} else {
		events = append(events, EventBypassModeInactive)
	}
	return active, events
}

func evaluateOverload(s nut.Sample, prev bool, events []Event) (bool, []Event) {
	active := s.HasStatus("OVER")
	if active == prev {
		return active, events
	}
	if active {
		events = append(events, EventOverloadActive)
	} else {
		events = append(events, EventOverloadResolved)
	}
	return active, events
}
