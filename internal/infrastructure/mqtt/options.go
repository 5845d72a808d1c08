package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 60 * time.Second
	quiesceMillis  = 1000
	maxQoS         = 2

	fallbackRetryDelay = 2 * time.Second
)

// Health topic payloads.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonCrash    = "unexpected_disconnect"
	reasonShutdown = "graceful_shutdown"
)

type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // string fields only
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return fallbackRetryDelay
	}
	return time.Duration(n) * time.Second
}

// clientOptions translates the mqtt config section into paho options.
// The will is the crash status: retained at QoS 1 on the health topic so
// subscribers see the bridge drop even when it never sent DISCONNECT.
func (c *Client) clientOptions() *pahomqtt.ClientOptions {
	b := c.cfg.Broker
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(b)).
		SetClientID(b.ClientID).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(c.cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(c.cfg.Reconnect.MaxDelay)).
		SetWill(c.topics.SystemHealth(), string(statusPayload(b.ClientID, statusOffline, reasonCrash)), 1, true)

	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username).SetPassword(c.cfg.Auth.Password)
	}
	if b.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
