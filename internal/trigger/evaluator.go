// Package trigger implements the multi-criterion shutdown trigger
// evaluator: four prioritized predicates run against the current Sample
// while the UPS is on battery (spec §4.5).
package trigger

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/nut"
)

// Policy is the subset of configured thresholds the evaluator consults.
type Policy struct {
	LowBatteryThresholdPct   float64
	CriticalRuntimeThreshold int64 // seconds
	CriticalRate             float64
	GracePeriod              int64 // seconds
	ExtendedTimeEnabled      bool
	ExtendedTimeThreshold    int64 // seconds
}

// Verdict is the result of one evaluation: either no trigger, or a reason
// string describing which predicate fired (spec §8 scenario wording is
// matched so reasons remain greppable in logs).
type Verdict struct {
	Triggered bool
	Reason    string
}

// Evaluate runs the four predicates in declared order against sample,
// returning the first satisfied verdict. timeOnBatteryS is the elapsed
// seconds since on_battery_start_epoch; rate is the current depletion rate
// from the Depletion Tracker. extendedTimeLogged is the debounce flag from
// MonitorState; the second return value is the updated flag, which the
// caller stores back.
func Evaluate(sample nut.Sample, p Policy, timeOnBatteryS int64, rate float64, extendedTimeLogged bool, log zerolog.Logger) (Verdict, bool) {
	// 1. Low charge.
	if sample.ChargePct.Valid {
		if sample.ChargePct.Value < p.LowBatteryThresholdPct {
			return Verdict{
				Triggered: true,
				Reason: fmt.Sprintf("%.0f%% below threshold %.0f%%",
					sample.ChargePct.Value, p.LowBatteryThresholdPct),
			}, extendedTimeLogged
		}
	} else {
		log.Warn().Msg("trigger: charge percentage missing or non-numeric")
	}

	// 2. Low runtime.
	if sample.RuntimeS.Valid {
		if sample.RuntimeS.Value < p.CriticalRuntimeThreshold {
			return Verdict{
				Triggered: true,
				Reason: fmt.Sprintf("runtime %ds below critical threshold %ds",
					sample.RuntimeS.Value, p.CriticalRuntimeThreshold),
			}, extendedTimeLogged
		}
	}

	// 3. High depletion rate, gated by grace period.
	if rate > p.CriticalRate {
		if timeOnBatteryS >= p.GracePeriod {
			return Verdict{
				Triggered: true,
				Reason: fmt.Sprintf("Depletion rate %.2f%%/min exceeds critical rate %.2f%%/min after grace period",
					rate, p.CriticalRate),
			}, extendedTimeLogged
		}
		log.Info().Float64("rate", rate).Msg("trigger: high depletion rate ignored during grace period")
	}

	// 4. Extended time on battery, feature-flagged.
	if timeOnBatteryS > p.ExtendedTimeThreshold {
		if p.ExtendedTimeEnabled {
			return Verdict{
				Triggered: true,
				Reason:    fmt.Sprintf("extended time on battery: %ds exceeds threshold %ds", timeOnBatteryS, p.ExtendedTimeThreshold),
			}, extendedTimeLogged
		}
		if !extendedTimeLogged {
			log.Info().Int64("time_on_battery_s", timeOnBatteryS).
				Msg("trigger: extended time on battery threshold exceeded (feature disabled)")
			extendedTimeLogged = true
		}
	}

	return Verdict{}, extendedTimeLogged
}
