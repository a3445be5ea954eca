package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/filaman/spoolscale/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker connection.
type Options struct {
	Host     string
	Port     int
	TLS      bool
	ClientID string
	Username string
	Password string
	QoS      byte

	// InsecureSkipVerify accepts the self-signed certificate printers ship with.
	InsecureSkipVerify bool

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// StatusTopic receives retained online/offline messages and the
	// Last Will. Empty disables status publishing.
	StatusTopic string
}

// OptionsFromConfig builds Options for the local hardware bus.
func OptionsFromConfig(cfg config.MQTTConfig) Options {
	return Options{
		Host:                  cfg.Broker.Host,
		Port:                  cfg.Broker.Port,
		TLS:                   cfg.Broker.TLS,
		InsecureSkipVerify:    cfg.Broker.InsecureSkipVerify,
		ClientID:              cfg.Broker.ClientID,
		Username:              cfg.Auth.Username,
		Password:              cfg.Auth.Password,
		QoS:                   byte(cfg.QoS), //nolint:gosec // Validated to 0-2 by config
		InitialReconnectDelay: time.Duration(cfg.Reconnect.InitialDelay) * time.Second,
		MaxReconnectDelay:     time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
		StatusTopic:           NewTopics(cfg.TopicPrefix).SystemStatus(),
	}
}

// BrokerURL returns the paho broker URL for these options.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// buildClientOptions creates paho options: clean session, auto-reconnect
// with backoff, keepalive and TLS when enabled.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if o.InitialReconnectDelay > 0 {
		opts.SetConnectRetryInterval(o.InitialReconnectDelay)
	}
	if o.MaxReconnectDelay > 0 {
		opts.SetMaxReconnectInterval(o.MaxReconnectDelay)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tlsMinVersion,
			InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // Printers use self-signed certificates
		})
	}

	if o.StatusTopic != "" {
		opts.SetWill(o.StatusTopic, buildStatusPayload(o.ClientID, "offline", "unexpected_disconnect"), 1, true)
	}

	return opts
}

// buildStatusPayload creates the JSON payload for status messages.
func buildStatusPayload(clientID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339))
}
