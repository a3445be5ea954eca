//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Requires a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
func TestPublishSubscribeRoundtrip(t *testing.T) {
	topics := NewTopics("spoolscale-test")
	client, err := Connect(Options{
		Host:        "127.0.0.1",
		Port:        1883,
		ClientID:    "spoolscale-integration",
		QoS:         1,
		StatusTopic: topics.SystemStatus(),
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	received := make(chan []byte, 1)
	if err := client.Subscribe(topics.ScaleWeight(), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topics.ScaleWeight(), []byte(`{"weight_g":812}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"weight_g":812}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
