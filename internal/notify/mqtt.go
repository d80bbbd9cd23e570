package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/ups-guardian/internal/config"
	"github.com/sweeney/ups-guardian/internal/dispatch"
)

// MQTTNotifier publishes dispatcher events to an MQTT event topic, reusing
// the teacher's paho.mqtt.golang connection idiom (Last Will and Testament,
// auto-reconnect) from the telemetry publisher — here the LWT marks the
// notifier itself offline rather than the UPS state.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTNotifier dials broker cfg and registers an LWT announcing this
// notifier offline if the connection drops uncleanly.
func NewMQTTNotifier(cfg config.MQTTConfig, eventTopicPrefix string) (*MQTTNotifier, error) {
	topic := eventTopicPrefix + "/events"
	lwtTopic := eventTopicPrefix + "/notifier/status"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID + "-notify")
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(lwtTopic, "offline", cfg.QOS, true)

	if cfg.TLSCACert != "" {
		tlsCfg, err := newTLSConfig(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("loading TLS CA cert %q: %w", cfg.TLSCACert, err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %q: %w", cfg.Broker, token.Error())
	}

	return &MQTTNotifier{client: client, topic: topic, qos: cfg.QOS}, nil
}

// Notify publishes n to the event topic and waits for broker acknowledgment,
// bounded by ctx's deadline.
func (m *MQTTNotifier) Notify(ctx context.Context, n dispatch.Notification) error {
	token := m.client.Publish(m.topic, m.qos, false, fmt.Sprintf("%s: %s", n.Severity, n.Message))

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		token.Wait()
		return token.Error()
	}
	if !token.WaitTimeout(time.Until(deadline)) {
		return fmt.Errorf("publishing to %q: timed out", m.topic)
	}
	return token.Error()
}

// Close disconnects from the broker gracefully.
func (m *MQTTNotifier) Close() error {
	m.client.Disconnect(250)
	return nil
}

func newTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert from %q", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}
