// Command ups-guardian runs the UPS shutdown supervisor: it samples a NUT
// upsd daemon, evaluates shutdown triggers and power-quality transitions,
// and drives the ordered shutdown sequence when the battery situation
// demands it (spec §1-§9). It also keeps publishing UPS telemetry to MQTT,
// the teacher's original ups-mqtt role, now running alongside supervision
// rather than instead of it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/capability"
	"github.com/sweeney/ups-guardian/internal/config"
	"github.com/sweeney/ups-guardian/internal/connection"
	"github.com/sweeney/ups-guardian/internal/depletion"
	"github.com/sweeney/ups-guardian/internal/dispatch"
	"github.com/sweeney/ups-guardian/internal/metrics"
	"github.com/sweeney/ups-guardian/internal/notify"
	"github.com/sweeney/ups-guardian/internal/nut"
	"github.com/sweeney/ups-guardian/internal/persist"
	"github.com/sweeney/ups-guardian/internal/publisher"
	"github.com/sweeney/ups-guardian/internal/sequencer"
	"github.com/sweeney/ups-guardian/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/ups-guardian/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, "./config.toml")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	logger.Info().Str("ups", cfg.UPS.Name).Str("nut_host", fmt.Sprintf("%s:%d", cfg.UPS.Host, cfg.UPS.Port)).
		Msg("ups-guardian starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	nutClient, err := connectNUT(ctx, cfg.UPS, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("NUT connection interrupted before startup completed")
		return
	}
	defer nutClient.Close() //nolint:errcheck
	logger.Info().Msg("connected to NUT")

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("state_dir", cfg.StateDir).Msg("creating state directory")
	}

	latch := persist.NewShutdownLatch(cfg.StateDir + "/shutdown.latch")

	sinks := buildSinks(cfg, logger)
	disp := dispatch.New(sinks, latch, logger)
	disp.Start()
	defer disp.Stop()

	coll := buildCollaborators(cfg, logger)
	seq := sequencer.New(cfg, latch, disp, coll, logger)

	connMachine := connection.New(cfg.UPS.MaxStaleDataTolerance, logger)

	depletionPath := cfg.StateDir + "/battery-history"
	depletionWindowS := int64(cfg.Triggers.Depletion.Window.Duration.Seconds())
	depl, err := depletion.Load(depletionPath, depletionWindowS, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("loading persisted battery history failed, starting empty")
	}

	thresholds := supervisor.DeriveThresholds(ctx, nutClient, cfg.UPS.VoltageWarningLowV, cfg.UPS.VoltageWarningHighV)
	logger.Info().Float64("warning_low_v", thresholds.WarningLowV).Float64("warning_high_v", thresholds.WarningHighV).
		Msg("voltage thresholds resolved")

	sup := supervisor.New(cfg, nutClient, connMachine, depl, seq, disp, latch, thresholds, logger)

	// Telemetry publishing runs alongside supervision, sharing the same NUT
	// client, on its own ticker.
	var telemetryDone chan struct{}
	if cfg.MQTT.Broker != "" {
		pub, err := publisher.NewMQTTPublisher(cfg.MQTT, publisher.StateTopic(cfg.MQTT.TopicPrefix, cfg.UPS.Name), publisher.FormatOffline())
		if err != nil {
			logger.Warn().Err(err).Msg("MQTT telemetry publisher unavailable, continuing without it")
		} else {
			defer pub.Close() //nolint:errcheck
			telemetryDone = make(chan struct{})
			go runTelemetry(ctx, nutClient, pub, cfg, latch, logger, telemetryDone)
		}
	}

	sup.Run(ctx)

	if telemetryDone != nil {
		<-telemetryDone
	}
	logger.Info().Msg("ups-guardian exiting")
}

// connectNUT dials upsd with exponential backoff (1s -> 60s cap), each sleep
// interruptible via ctx cancellation (grounded on the teacher's original
// connectNUT).
func connectNUT(ctx context.Context, cfg config.UPSConfig, log zerolog.Logger) (*nut.Client, error) {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		c, err := nut.NewClient(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name)
		if err == nil {
			return c, nil
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("NUT connection failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runTelemetry polls the UPS on its own interval and publishes the raw
// variables, computed metrics, and combined state topic — independent of
// the supervisor's own trigger-evaluation tick (spec's ambient telemetry
// role, carried over from the teacher).
func runTelemetry(ctx context.Context, poller nut.Poller, pub publisher.Publisher, cfg *config.Config, latch *persist.ShutdownLatch, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.UPS.CheckInterval.Duration)
	defer ticker.Stop()

	pubCfg := publisher.PublishConfig{Prefix: cfg.MQTT.TopicPrefix, UPSName: cfg.UPS.Name, Retained: cfg.MQTT.Retained}

	for {
		select {
		case <-ticker.C:
			if err := doPoll(poller, pub, cfg); err != nil {
				log.Warn().Err(err).Msg("telemetry poll failed")
			}
			if err := publisher.PublishGuardianState(latch.IsSet(), pubCfg, pub); err != nil {
				log.Warn().Err(err).Msg("publishing guardian state failed")
			}
		case <-ctx.Done():
			if err := doPoll(poller, pub, cfg); err != nil {
				log.Warn().Err(err).Msg("final telemetry poll failed")
			}
			offMsg := publisher.Message{
				Topic:    publisher.StateTopic(cfg.MQTT.TopicPrefix, cfg.UPS.Name),
				Payload:  publisher.FormatOffline(),
				Retained: true,
			}
			if err := pub.Publish(offMsg); err != nil {
				log.Warn().Err(err).Msg("publishing offline announcement failed")
			}
			return
		}
	}
}

// doPoll fetches NUT variables, computes metrics, and publishes everything.
func doPoll(poller nut.Poller, pub publisher.Publisher, cfg *config.Config) error {
	vars, err := poller.Poll()
	if err != nil {
		return fmt.Errorf("polling NUT: %w", err)
	}

	varMap := nut.VarsToMap(vars)
	m := metrics.Compute(varMap)

	pubCfg := publisher.PublishConfig{
		Prefix:   cfg.MQTT.TopicPrefix,
		UPSName:  cfg.UPS.Name,
		Retained: cfg.MQTT.Retained,
	}
	if err := publisher.PublishAll(varMap, m, pubCfg, pub); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	return nil
}

// buildSinks constructs the configured dispatch.Sink set from Notifications.
func buildSinks(cfg *config.Config, log zerolog.Logger) []dispatch.Sink {
	var sinks []dispatch.Sink
	if !cfg.Notifications.Enabled {
		return sinks
	}

	if len(cfg.Notifications.URLs) > 0 {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notifications.URLs, cfg.Notifications.Title, cfg.Notifications.Timeout.Duration))
	}

	if cfg.Notifications.MQTT.Enabled {
		mqttNotifier, err := notify.NewMQTTNotifier(cfg.MQTT, cfg.Notifications.MQTT.TopicPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT notifier unavailable, continuing without it")
		} else {
			sinks = append(sinks, mqttNotifier)
		}
	}
	return sinks
}

// buildCollaborators wires the real capability implementations according to
// which shutdown stages are enabled in config.
func buildCollaborators(cfg *config.Config, log zerolog.Logger) sequencer.Collaborators {
	runner := capability.ExecRunner{}
	coll := sequencer.Collaborators{
		Containers: capability.ExecContainerController{Runner: runner, CommandExists: capability.LookPathExists},
		Users:      capability.ExecUserLister{},
		Unmounter:  capability.ExecUnmounter{Runner: runner},
		Remote:     capability.SSHRemoteShutdown{},
		Local:      capability.ExecLocalShutdown{Runner: runner},
	}

	if cfg.VirtualMachines.Enabled {
		vms, err := capability.NewProxmoxVMController(cfg.VirtualMachines.Proxmox)
		if err != nil {
			log.Warn().Err(err).Msg("Proxmox VM controller unavailable, VM shutdown stage will be skipped")
		} else {
			coll.VMs = vms
		}
	}
	return coll
}
