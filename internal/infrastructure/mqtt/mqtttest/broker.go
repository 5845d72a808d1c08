// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
)

// Broker is a mochi server listening on a loopback port.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int
}

// Start launches a broker that accepts any client and stops it when the
// test ends.
func Start(t testing.TB) *Broker {
	t.Helper()

	port := freePort(t)
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("starting broker: %v", err)
	}
	t.Cleanup(func() {
		server.Close() //nolint:errcheck // Test cleanup
	})

	return &Broker{Server: server, Host: "127.0.0.1", Port: port}
}

// Config returns an mqtt config section pointing at the broker.
func (b *Broker) Config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     b.Host,
			Port:     b.Port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
		TopicPrefix: "lmbridge",
	}
}

// Message is one publish observed by Watch.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Watch subscribes the broker's inline client to filter and returns a
// channel of matching publishes. Call it before the publisher connects.
func (b *Broker) Watch(t testing.TB, filter string) <-chan Message {
	t.Helper()

	ch := make(chan Message, 64)
	id := nextSubscriptionID()
	err := b.Server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		msg := Message{
			Topic:    pk.TopicName,
			Payload:  append([]byte(nil), pk.Payload...),
			Retained: pk.FixedHeader.Retain,
		}
		select {
		case ch <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watching %s: %v", filter, err)
	}
	t.Cleanup(func() {
		b.Server.Unsubscribe(filter, id) //nolint:errcheck // Test cleanup
	})
	return ch
}

// Publish injects a message as if a client had sent it.
func (b *Broker) Publish(t testing.TB, topic string, payload []byte) {
	t.Helper()
	if err := b.Server.Publish(topic, payload, false, 1); err != nil {
		t.Fatalf("publishing %s: %v", topic, err)
	}
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck // Port probe only
	return port
}
