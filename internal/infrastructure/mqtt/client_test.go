package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/mqtt/mqtttest"
)

// connectTest starts an embedded broker and connects a client to it.
func connectTest(t *testing.T, clientID string) (*Client, *mqtttest.Broker) {
	t.Helper()
	broker := mqtttest.Start(t)
	client, err := Connect(broker.Config(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client, broker
}

func waitMessage(t *testing.T, ch <-chan mqtttest.Message) mqtttest.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return mqtttest.Message{}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-test")

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if client.Topics().Prefix != "lmbridge" {
		t.Errorf("Topics().Prefix = %q, want lmbridge", client.Topics().Prefix)
	}
}

func TestConnectPublishesOnlineStatus(t *testing.T) {
	broker := mqtttest.Start(t)
	health := broker.Watch(t, "lmbridge/system/health")

	client, err := Connect(broker.Config("lmbridge-online"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	msg := waitMessage(t, health)
	var status statusMessage
	if err := json.Unmarshal(msg.Payload, &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Status != statusOnline || status.ClientID != "lmbridge-online" {
		t.Errorf("status = %+v, want online from lmbridge-online", status)
	}
}

func TestClosePublishesGracefulOffline(t *testing.T) {
	broker := mqtttest.Start(t)
	client, err := Connect(broker.Config("lmbridge-close"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	health := broker.Watch(t, "lmbridge/system/health")
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	for {
		msg := waitMessage(t, health)
		var status statusMessage
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		if status.Status == statusOffline {
			if status.Reason != "graceful_shutdown" {
				t.Errorf("Reason = %q, want graceful_shutdown", status.Reason)
			}
			return
		}
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 19998, ClientID: "lmbridge-refused"},
		QoS:    1,
	}

	_, err := Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-health")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-health-cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-health-down")
	client.Close() //nolint:errcheck // Test setup

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublishRetainedState(t *testing.T) {
	client, broker := connectTest(t, "lmbridge-pub")
	topic := client.Topics().DeviceState("LM012345")
	states := broker.Watch(t, topic)

	if err := client.Publish(topic, []byte(`{"power":"on"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := waitMessage(t, states)
	if string(msg.Payload) != `{"power":"on"}` {
		t.Errorf("payload = %s", msg.Payload)
	}
}

func TestPublishJSON(t *testing.T) {
	client, broker := connectTest(t, "lmbridge-pub-json")
	topic := client.Topics().DeviceAck("LM012345")
	acks := broker.Watch(t, topic)

	ack := map[string]any{"field": "power", "ok": true}
	if err := client.PublishJSON(topic, ack, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	msg := waitMessage(t, acks)
	var got map[string]any
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if got["field"] != "power" || got["ok"] != true {
		t.Errorf("ack = %v", got)
	}
}

func TestPublishJSONUnencodable(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-pub-bad")
	err := client.PublishJSON("lmbridge/x/ack", make(chan int), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-pub-validate")

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "lmbridge/x/state", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "lmbridge/x/state", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishNilPayload(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-pub-nil")
	if err := client.Publish("lmbridge/test/nil", nil, 1, false); err != nil {
		t.Errorf("Publish() with nil payload error = %v", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-pub-down")
	client.Close() //nolint:errcheck // Test setup

	if err := client.Publish("lmbridge/test", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeCommandTopics(t *testing.T) {
	client, broker := connectTest(t, "lmbridge-sub")
	topics := client.Topics()

	type command struct {
		serial, field, payload string
	}
	received := make(chan command, 4)
	err := client.Subscribe(topics.AllDeviceSets(), 1, func(topic string, payload []byte) error {
		serial, field, ok := topics.ParseDeviceSet(topic)
		if !ok {
			return errors.New("unexpected topic " + topic)
		}
		received <- command{serial, field, string(payload)}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllDeviceSets()) || client.SubscriptionCount() != 1 {
		t.Fatalf("subscription not tracked")
	}

	broker.Publish(t, topics.DeviceSet("LM012345", "coffee_target"), []byte("93.5"))

	select {
	case got := <-received:
		if got.serial != "LM012345" || got.field != "coffee_target" || got.payload != "93.5" {
			t.Errorf("received %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for command")
	}
}

func TestSubscribeValidation(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-sub-validate")
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := client.Subscribe("lmbridge/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := client.Subscribe("lmbridge/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestUnsubscribe(t *testing.T) {
	client, _ := connectTest(t, "lmbridge-unsub")
	topic := "lmbridge/test/unsubscribe"

	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestHandlerErrorAndPanicAreLogged(t *testing.T) {
	client, broker := connectTest(t, "lmbridge-handler")
	logger := &mockLogger{}
	client.SetLogger(logger)

	done := make(chan struct{}, 2)
	err := client.Subscribe("lmbridge/test/+", 1, func(topic string, _ []byte) error {
		defer func() { done <- struct{}{} }()
		if topic == "lmbridge/test/panic" {
			panic("boom")
		}
		return errors.New("handler error")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	broker.Publish(t, "lmbridge/test/error", []byte("x"))
	broker.Publish(t, "lmbridge/test/panic", []byte("x"))

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler was not called")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errs, warns := logger.counts(); errs == 1 && warns == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	errs, warns := logger.counts()
	t.Errorf("logged errors=%d warns=%d, want 1 and 1", errs, warns)
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "coffee/"}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DeviceState", topics.DeviceState("LM012345"), "coffee/LM012345/state"},
		{"DeviceAvailability", topics.DeviceAvailability("LM012345"), "coffee/LM012345/availability"},
		{"DeviceSet", topics.DeviceSet("LM012345", "power"), "coffee/LM012345/set/power"},
		{"DeviceAck", topics.DeviceAck("LM012345"), "coffee/LM012345/ack"},
		{"SystemHealth", topics.SystemHealth(), "coffee/system/health"},
		{"AllDeviceSets", topics.AllDeviceSets(), "coffee/+/set/+"},
		{"DefaultPrefix", Topics{}.DeviceState("LM1"), "lmbridge/LM1/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestParseDeviceSet(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		topic      string
		wantSerial string
		wantField  string
		wantOK     bool
	}{
		{"lmbridge/LM012345/set/power", "LM012345", "power", true},
		{"lmbridge/GR123/set/dose", "GR123", "dose", true},
		{"lmbridge/LM012345/state", "", "", false},
		{"lmbridge/LM012345/set/", "", "", false},
		{"lmbridge/system/set/power", "", "", false},
		{"other/LM012345/set/power", "", "", false},
		{"lmbridge/LM012345/set/power/extra", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			serial, field, ok := topics.ParseDeviceSet(tt.topic)
			if ok != tt.wantOK || serial != tt.wantSerial || field != tt.wantField {
				t.Errorf("ParseDeviceSet(%q) = %q, %q, %v", tt.topic, serial, field, ok)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var status statusMessage
	if err := json.Unmarshal(statusPayload("lmbridge", statusOffline, "unexpected_disconnect"), &status); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.Timestamp == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		broker config.MQTTBrokerConfig
		want   string
	}{
		{config.MQTTBrokerConfig{Host: "localhost", Port: 1883}, "tcp://localhost:1883"},
		{config.MQTTBrokerConfig{Host: "broker.lan", Port: 8883, TLS: true}, "ssl://broker.lan:8883"},
		{config.MQTTBrokerConfig{Host: "::1", Port: 1883}, "tcp://[::1]:1883"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.broker); got != tt.want {
			t.Errorf("brokerURL(%+v) = %q, want %q", tt.broker, got, tt.want)
		}
	}
}

func TestRetryDelayFallback(t *testing.T) {
	if got := seconds(0); got != fallbackRetryDelay {
		t.Errorf("seconds(0) = %v, want %v", got, fallbackRetryDelay)
	}
	if got := seconds(30); got != 30*time.Second {
		t.Errorf("seconds(30) = %v", got)
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors), len(l.warns)
}
