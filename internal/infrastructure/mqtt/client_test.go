package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/filaman/spoolscale/internal/infrastructure/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "core"},
		Auth:   config.MQTTAuthConfig{Username: "scale", Password: "secret"},
		QoS:    1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 2,
			MaxDelay:     30,
		},
		TopicPrefix: "shelf",
	}

	o := OptionsFromConfig(cfg)

	if o.BrokerURL() != "tcp://127.0.0.1:1883" {
		t.Errorf("BrokerURL() = %q", o.BrokerURL())
	}
	if o.QoS != 1 {
		t.Errorf("QoS = %d, want 1", o.QoS)
	}
	if o.InitialReconnectDelay != 2*time.Second || o.MaxReconnectDelay != 30*time.Second {
		t.Errorf("reconnect delays = %v/%v", o.InitialReconnectDelay, o.MaxReconnectDelay)
	}
	if o.StatusTopic != "shelf/system/status" {
		t.Errorf("StatusTopic = %q", o.StatusTopic)
	}
}

func TestOptions_BrokerURLTLS(t *testing.T) {
	o := Options{Host: "192.168.1.50", Port: 8883, TLS: true}
	if got := o.BrokerURL(); got != "ssl://192.168.1.50:8883" {
		t.Errorf("BrokerURL() = %q, want ssl scheme", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	o := Options{
		Host:               "printer",
		Port:               8883,
		TLS:                true,
		InsecureSkipVerify: true,
		ClientID:           "spoolscale-printer",
		Username:           "bblp",
		Password:           "12345678",
		StatusTopic:        "spoolscale/system/status",
	}

	opts := buildClientOptions(o)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://printer:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "bblp" || opts.Password != "12345678" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || !opts.TLSConfig.InsecureSkipVerify {
		t.Error("TLS config missing InsecureSkipVerify")
	}
	if !opts.WillEnabled || opts.WillTopic != "spoolscale/system/status" || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestBuildClientOptions_NoStatusTopic(t *testing.T) {
	opts := buildClientOptions(Options{Host: "localhost", Port: 1883})
	if opts.WillEnabled {
		t.Error("will enabled without a status topic")
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var got map[string]string
	if err := json.Unmarshal([]byte(buildStatusPayload("core", "offline", "graceful_shutdown")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["status"] != "offline" || got["client_id"] != "core" || got["reason"] != "graceful_shutdown" {
		t.Errorf("payload = %v", got)
	}

	got = nil
	if err := json.Unmarshal([]byte(buildStatusPayload("core", "online", "")), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := got["reason"]; ok {
		t.Error("online payload carries a reason")
	}
}

func TestClient_Disconnected(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for client without connection")
	}
	if err := c.Publish("a/b", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClient_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish oversize", c.Publish("a", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 0, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("a", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("a", 0, nil), ErrSubscribeFailed},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestDispatch_RecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("driver sent garbage") }, "a/b", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "a/b", nil)

	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one panic entry", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error entry", logger.warns)
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("spoolscale/")

	tests := []struct {
		got, want string
	}{
		{topics.ScaleWeight(), "spoolscale/hw/scale/weight"},
		{topics.ScaleCommand(), "spoolscale/hw/scale/command"},
		{topics.NFCEvent(), "spoolscale/hw/nfc/event"},
		{topics.NFCWrite(), "spoolscale/hw/nfc/write"},
		{topics.DisplayFrame(), "spoolscale/hw/display/frame"},
		{topics.AllHardware(), "spoolscale/hw/#"},
		{topics.CoreState(), "spoolscale/core/state"},
		{topics.SystemStatus(), "spoolscale/system/status"},
		{NewTopics("").SystemStatus(), "spoolscale/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}
