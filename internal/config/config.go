// Package config loads and merges configuration from a TOML file and
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so that BurntSushi/toml can decode "30s"-style
// strings via the encoding.TextUnmarshaler interface.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText implements encoding.TextMarshaler so tests and tools can
// round-trip a Config through TOML.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UPSConfig holds NUT connection and sampling settings.
type UPSConfig struct {
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	Username              string   `toml:"username"`
	Password              string   `toml:"password"`
	Name                  string   `toml:"name"`
	CheckInterval         Duration `toml:"check_interval"`
	MaxStaleDataTolerance int      `toml:"max_stale_data_tolerance"`

	// VoltageWarningLowV/HighV are used only when the UPS itself does not
	// report input.transfer.low/high at startup (spec §4.1's var(key)
	// operation); when it does, the reported values always win.
	VoltageWarningLowV  float64 `toml:"voltage_warning_low_v"`
	VoltageWarningHighV float64 `toml:"voltage_warning_high_v"`
}

// DepletionConfig holds sliding-window depletion-rate trigger settings.
type DepletionConfig struct {
	Window       Duration `toml:"window"`
	CriticalRate float64  `toml:"critical_rate"`
	GracePeriod  Duration `toml:"grace_period"`
}

// ExtendedTimeConfig holds the extended-time-on-battery trigger settings.
type ExtendedTimeConfig struct {
	Enabled   bool     `toml:"enabled"`
	Threshold Duration `toml:"threshold"`
}

// TriggersConfig holds all shutdown-trigger thresholds.
type TriggersConfig struct {
	LowBatteryThreshold      float64            `toml:"low_battery_threshold"`
	CriticalRuntimeThreshold Duration           `toml:"critical_runtime_threshold"`
	Depletion                DepletionConfig    `toml:"depletion"`
	ExtendedTime             ExtendedTimeConfig `toml:"extended_time"`
}

// BehaviorConfig holds global behavior switches.
type BehaviorConfig struct {
	DryRun bool `toml:"dry_run"`
}

// MQTTNotifyConfig holds the optional MQTT event-sink settings, layered on
// top of the same broker the telemetry publisher uses.
type MQTTNotifyConfig struct {
	Enabled     bool   `toml:"enabled"`
	TopicPrefix string `toml:"topic_prefix"`
}

// NotificationsConfig holds dispatcher/notifier settings.
type NotificationsConfig struct {
	Enabled bool             `toml:"enabled"`
	URLs    []string         `toml:"urls"`
	Title   string           `toml:"title"`
	Timeout Duration         `toml:"timeout"`
	MQTT    MQTTNotifyConfig `toml:"mqtt"`
}

// ProxmoxConfig holds the Proxmox VE API connection used by the VM controller.
type ProxmoxConfig struct {
	Host       string `toml:"host"`
	TokenID    string `toml:"token_id"`
	Secret     string `toml:"secret"`
	Node       string `toml:"node"`
	SkipVerify bool   `toml:"skip_verify"`
}

// VMConfig holds virtual-machine shutdown-stage settings.
type VMConfig struct {
	Enabled bool          `toml:"enabled"`
	MaxWait Duration      `toml:"max_wait"`
	Proxmox ProxmoxConfig `toml:"proxmox"`
}

// ComposeFileConfig names one compose project to bring down during the
// container shutdown stage, ahead of the generic per-container sweep.
type ComposeFileConfig struct {
	Path string `toml:"path"`
	// StopTimeout overrides ContainersConfig.StopTimeout for this project
	// when set; a zero value means "use the container stage's default".
	StopTimeout Duration `toml:"stop_timeout"`
}

// ContainersConfig holds container shutdown-stage settings.
type ContainersConfig struct {
	Enabled               bool     `toml:"enabled"`
	Runtime               string   `toml:"runtime"` // "auto", "podman", or "docker"
	StopTimeout           Duration `toml:"stop_timeout"`
	IncludeUserContainers bool     `toml:"include_user_containers"`

	// ComposeFiles are brought down with "<runtime> compose -f <path> down"
	// before the generic sweep below runs.
	ComposeFiles []ComposeFileConfig `toml:"compose_files"`
	// ShutdownAllRemainingContainers controls whether containers not
	// covered by ComposeFiles (and, if IncludeUserContainers is set,
	// rootless per-user containers) are also stopped individually.
	// Defaults to true.
	ShutdownAllRemainingContainers bool `toml:"shutdown_all_remaining_containers"`
}

// MountConfig describes a single mountpoint to unmount during shutdown.
type MountConfig struct {
	Path    string `toml:"path"`
	Options string `toml:"options"`
}

// UnmountConfig holds the unmount-stage settings.
type UnmountConfig struct {
	Enabled bool          `toml:"enabled"`
	Timeout Duration      `toml:"timeout"`
	Mounts  []MountConfig `toml:"mounts"`
}

// FilesystemsConfig holds the sync/unmount shutdown-stage settings.
type FilesystemsConfig struct {
	SyncEnabled bool          `toml:"sync_enabled"`
	Unmount     UnmountConfig `toml:"unmount"`
}

// RemoteServerConfig holds a single remote-peer shutdown target.
type RemoteServerConfig struct {
	Name            string   `toml:"name"`
	Enabled         bool     `toml:"enabled"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	User            string   `toml:"user"`
	PrivateKeyPath  string   `toml:"private_key_path"`
	ShutdownCommand string   `toml:"shutdown_command"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
	CommandTimeout  Duration `toml:"command_timeout"`
	Options         []string `toml:"options"`
}

// LocalShutdownConfig holds the final local-poweroff stage settings.
type LocalShutdownConfig struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
	Message string `toml:"message"`
}

// MQTTConfig holds MQTT broker connection settings shared by the telemetry
// publisher and the optional MQTT notifier sink.
type MQTTConfig struct {
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	Retained    bool   `toml:"retained"`
	QOS         byte   `toml:"qos"`
	TLSCACert   string `toml:"tls_ca_cert"`
}

// Config is the top-level configuration struct: the Policy of the design
// doc, plus the ambient NUT/MQTT wiring the teacher's config already carried.
type Config struct {
	UPS             UPSConfig            `toml:"ups"`
	Triggers        TriggersConfig       `toml:"triggers"`
	Behavior        BehaviorConfig       `toml:"behavior"`
	Notifications   NotificationsConfig  `toml:"notifications"`
	VirtualMachines VMConfig             `toml:"virtual_machines"`
	Containers      ContainersConfig     `toml:"containers"`
	Filesystems     FilesystemsConfig    `toml:"filesystems"`
	RemoteServers   []RemoteServerConfig `toml:"remote_servers"`
	LocalShutdown   LocalShutdownConfig  `toml:"local_shutdown"`
	MQTT            MQTTConfig           `toml:"mqtt"`

	StateDir string `toml:"state_dir"`
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides.  Missing files are skipped silently;
// a malformed file returns an error.  Calling Load() with no arguments
// returns pure defaults plus any env overrides.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break // first found file wins
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		UPS: UPSConfig{
			Host:                  "localhost",
			Port:                  3493,
			Name:                  "UPS@localhost",
			CheckInterval:         Duration{1 * time.Second},
			MaxStaleDataTolerance: 3,
			VoltageWarningLowV:    210,
			VoltageWarningHighV:   250,
		},
		Triggers: TriggersConfig{
			LowBatteryThreshold:      20,
			CriticalRuntimeThreshold: Duration{600 * time.Second},
			Depletion: DepletionConfig{
				Window:       Duration{300 * time.Second},
				CriticalRate: 15.0,
				GracePeriod:  Duration{90 * time.Second},
			},
			ExtendedTime: ExtendedTimeConfig{
				Enabled:   true,
				Threshold: Duration{900 * time.Second},
			},
		},
		Behavior: BehaviorConfig{DryRun: false},
		Notifications: NotificationsConfig{
			Enabled: false,
			URLs:    []string{},
			Title:   "UPS Guardian",
			Timeout: Duration{10 * time.Second},
		},
		VirtualMachines: VMConfig{
			Enabled: false,
			MaxWait: Duration{60 * time.Second},
		},
		Containers: ContainersConfig{
			Enabled:                        false,
			Runtime:                        "auto",
			StopTimeout:                    Duration{30 * time.Second},
			ShutdownAllRemainingContainers: true,
		},
		Filesystems: FilesystemsConfig{
			SyncEnabled: true,
			Unmount: UnmountConfig{
				Enabled: false,
				Timeout: Duration{15 * time.Second},
			},
		},
		LocalShutdown: LocalShutdownConfig{
			Enabled: true,
			Command: "shutdown -h now",
			Message: "UPS battery critical — shutting down",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "ups-guardian",
			TopicPrefix: "ups",
			Retained:    true,
			QOS:         1,
		},
		StateDir: "/var/lib/ups-guardian",
	}
}

// applyEnvOverrides copies any set UPS_GUARDIAN_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UPS_GUARDIAN_UPS_HOST"); v != "" {
		cfg.UPS.Host = v
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.UPS.Port = p
		} else {
			log.Printf("config: ignoring invalid UPS_GUARDIAN_UPS_PORT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_USERNAME"); v != "" {
		cfg.UPS.Username = v
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_PASSWORD"); v != "" {
		cfg.UPS.Password = v
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_NAME"); v != "" {
		cfg.UPS.Name = v
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UPS.CheckInterval = Duration{d}
		} else {
			log.Printf("config: ignoring invalid UPS_GUARDIAN_UPS_CHECK_INTERVAL=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_GUARDIAN_UPS_STALE_TOLERANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UPS.MaxStaleDataTolerance = n
		} else {
			log.Printf("config: ignoring invalid UPS_GUARDIAN_UPS_STALE_TOLERANCE=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_GUARDIAN_TRIGGERS_LOW_BATTERY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Triggers.LowBatteryThreshold = f
		} else {
			log.Printf("config: ignoring invalid UPS_GUARDIAN_TRIGGERS_LOW_BATTERY_THRESHOLD=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_GUARDIAN_BEHAVIOR_DRY_RUN"); v != "" {
		cfg.Behavior.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_GUARDIAN_NOTIFICATIONS_ENABLED"); v != "" {
		cfg.Notifications.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_GUARDIAN_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("UPS_GUARDIAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("UPS_GUARDIAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("UPS_GUARDIAN_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("UPS_GUARDIAN_MQTT_RETAINED"); v != "" {
		cfg.MQTT.Retained = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_GUARDIAN_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
}
