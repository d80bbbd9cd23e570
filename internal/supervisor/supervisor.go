// Package supervisor owns the sampling loop, cross-tick MonitorState, and
// signal handling; it wires the Probe, Connection state machine, Depletion
// Tracker, Trigger Evaluator, Power-State Monitors, Sequencer, and
// Dispatcher into one tick discipline (spec §4.8).
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/config"
	"github.com/sweeney/ups-guardian/internal/connection"
	"github.com/sweeney/ups-guardian/internal/depletion"
	"github.com/sweeney/ups-guardian/internal/dispatch"
	"github.com/sweeney/ups-guardian/internal/nut"
	"github.com/sweeney/ups-guardian/internal/persist"
	"github.com/sweeney/ups-guardian/internal/power"
	"github.com/sweeney/ups-guardian/internal/sequencer"
	"github.com/sweeney/ups-guardian/internal/trigger"
)

// state is the cross-tick memory the Supervisor exclusively owns (spec §3
// MonitorState, minus the fields already owned by the Connection Machine
// and the power monitors).
type state struct {
	previousStatusTokens []string
	onBatteryStartEpoch  int64
	extendedTimeLogged   bool
	powerState           power.State
}

// Supervisor drives the sampling loop described in spec §4.8.
type Supervisor struct {
	cfg   *config.Config
	probe nut.UpsQuery
	conn  *connection.Machine
	depl  *depletion.Tracker
	seq   *sequencer.Sequencer
	disp  *dispatch.Dispatcher
	latch *persist.ShutdownLatch
	log   zerolog.Logger

	thresholds power.Thresholds
	policy     trigger.Policy

	upsStatePath string

	state state
}

// New wires every component for one UPS. thresholds are the voltage
// thresholds derived once at startup (see DeriveThresholds); New uses them
// as given and they are never re-derived afterward (spec §9's conservative
// resolution of the re-derivation Open Question).
func New(
	cfg *config.Config,
	probe nut.UpsQuery,
	conn *connection.Machine,
	depl *depletion.Tracker,
	seq *sequencer.Sequencer,
	disp *dispatch.Dispatcher,
	latch *persist.ShutdownLatch,
	thresholds power.Thresholds,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		probe:        probe,
		conn:         conn,
		depl:         depl,
		seq:          seq,
		disp:         disp,
		latch:        latch,
		log:          log,
		thresholds:   thresholds,
		upsStatePath: cfg.StateDir + "/ups-state",
		policy: trigger.Policy{
			LowBatteryThresholdPct:   cfg.Triggers.LowBatteryThreshold,
			CriticalRuntimeThreshold: int64(cfg.Triggers.CriticalRuntimeThreshold.Duration.Seconds()),
			CriticalRate:             cfg.Triggers.Depletion.CriticalRate,
			GracePeriod:              int64(cfg.Triggers.Depletion.GracePeriod.Duration.Seconds()),
			ExtendedTimeEnabled:      cfg.Triggers.ExtendedTime.Enabled,
			ExtendedTimeThreshold:    int64(cfg.Triggers.ExtendedTime.Threshold.Duration.Seconds()),
		},
	}
}

// DeriveThresholds discovers voltage_warning_low_v/high_v from the UPS's
// input.transfer.low/high variables at startup (spec §4.1's var(key)
// operation and §3's MonitorState fields); the UPS's nominal voltage is not
// read. transferLowFallback/transferHighFallback
// are used when the UPS does not report transfer thresholds at all.
func DeriveThresholds(ctx context.Context, probe nut.UpsQuery, transferLowFallback, transferHighFallback float64) power.Thresholds {
	th := power.Thresholds{WarningLowV: transferLowFallback, WarningHighV: transferHighFallback}

	if v, ok := probe.Var(ctx, "input.transfer.low"); ok {
		if f, err := parseFloat(v); err == nil {
			th.WarningLowV = f
		}
	}
	if v, ok := probe.Var(ctx, "input.transfer.high"); ok {
		if f, err := parseFloat(v); err == nil {
			th.WarningHighV = f
		}
	}
	return th
}

// Run drives the tick loop until ctx is cancelled (typically by
// SIGTERM/SIGINT). It never returns an error: probe failures are handled
// internally per spec §4.8/§7, and the only way out is context
// cancellation or a shutdown sequence that powers off the host.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.handleShutdownSignal()
			return
		default:
		}

		sleep := s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.handleShutdownSignal()
			return
		case <-time.After(sleep):
		}
	}
}

// Tick runs exactly one probe → connection-state update → evaluation cycle
// and returns how long to sleep before the next tick (spec §4.8). Exported
// so callers that want single-step control (tests, a future manual-trigger
// CLI) can drive it directly instead of going through Run's loop.
func (s *Supervisor) Tick(ctx context.Context) time.Duration {
	outcome, sample, err := s.probe.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("supervisor: probe error")
	}

	previousWasOnBattery := hasToken(s.state.previousStatusTokens, "OB")
	result := s.conn.Observe(outcome, previousWasOnBattery)
	for _, ev := range result.Events {
		s.disp.Send(string(ev), severityForConnectionEvent(ev))
	}

	if result.Failsafe {
		s.seq.Run(ctx, "FAILSAFE_TRIGGERED: UPS unreachable while on battery")
		return s.cfg.UPS.CheckInterval.Duration
	}

	if outcome != nut.Ok {
		return 5 * time.Second
	}

	s.onSuccessfulProbe(ctx, sample)
	return s.cfg.UPS.CheckInterval.Duration
}

func (s *Supervisor) onSuccessfulProbe(ctx context.Context, sample nut.Sample) {
	epoch := nowEpoch()

	if err := persist.WriteUPSState(s.upsStatePath, sample, epoch); err != nil {
		s.log.Warn().Err(err).Msg("supervisor: writing ups state snapshot failed")
	}

	wasOnBattery := hasToken(s.state.previousStatusTokens, "OB")
	isOnBattery := sample.HasStatus("OB")

	switch {
	case isOnBattery && !wasOnBattery:
		s.state.onBatteryStartEpoch = epoch
		s.depl.Clear()
		s.state.extendedTimeLogged = false
		s.disp.Send("ON_BATTERY", dispatch.Info)

	case !isOnBattery && wasOnBattery:
		outageDuration := epoch - s.state.onBatteryStartEpoch
		s.log.Info().Int64("outage_duration_s", outageDuration).Msg("supervisor: power restored")
		s.disp.Send("POWER_RESTORED", dispatch.Success)
		s.state.onBatteryStartEpoch = 0
		s.depl.Clear()
	}

	if sample.HasStatus("FSD") {
		s.seq.Run(ctx, "FSD status flag set by UPS")
		s.state.previousStatusTokens = sample.StatusTokens
		return
	}

	if isOnBattery {
		rate := 0.0
		if sample.ChargePct.Valid {
			rate = s.depl.Observe(epoch, sample.ChargePct.Value)
		}
		timeOnBattery := epoch - s.state.onBatteryStartEpoch

		verdict, loggedNow := trigger.Evaluate(sample, s.policy, timeOnBattery, rate, s.state.extendedTimeLogged, s.log)
		s.state.extendedTimeLogged = loggedNow
		if verdict.Triggered {
			s.seq.Run(ctx, verdict.Reason)
		}
	}

	latched := s.latch.IsSet()
	newPowerState, events := power.Evaluate(sample, s.state.powerState, s.thresholds, latched)
	s.state.powerState = newPowerState
	for _, ev := range events {
		if ev.DispatchOnly() {
			s.disp.Send(string(ev), dispatch.Warning)
		}
	}

	s.state.previousStatusTokens = sample.StatusTokens
}

// handleShutdownSignal implements spec §4.8's signal contract: emit a stop
// notification and exit cleanly unless the latch is already set, in which
// case the Sequencer is running and we exit silently.
func (s *Supervisor) handleShutdownSignal() {
	if s.latch.IsSet() {
		return
	}
	s.disp.Send("service stopped", dispatch.Info)
}

func hasToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func severityForConnectionEvent(ev connection.Event) dispatch.Severity {
	switch ev {
	case connection.EventConnectionRestored:
		return dispatch.Success
	case connection.EventFailsafeTriggered:
		return dispatch.Failure
	default:
		return dispatch.Warning
	}
}
