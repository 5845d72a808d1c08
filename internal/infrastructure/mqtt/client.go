package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
)

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is the bridge's broker connection. It replays its routes after a
// reconnect and keeps the retained health topic current. Safe for
// concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu     sync.RWMutex
	up     bool
	routes map[string]route
	onUp   func()
	onDown func(error)
	log    Logger
}

// Connect dials the broker and waits for the first CONNACK. Every
// (re)connect publishes a retained "online" status on the health topic.
//
// Parameters:
//   - cfg: MQTT section of the config
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed if the broker is unreachable or rejects the client
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		routes: make(map[string]route),
	}

	opts := c.clientOptions().
		SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.logWarn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		// Stop the retry loop started by SetConnectRetry.
		c.paho.Disconnect(0)
		return nil, err
	}

	// paho runs the OnConnect handler on its own goroutine.
	c.setUp(true)
	return c, nil
}

func (c *Client) setUp(up bool) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
}

func (c *Client) connectionUp() {
	c.setUp(true)
	c.resubscribe()
	c.paho.Publish(c.topics.SystemHealth(), c.qos(), true,
		statusPayload(c.cfg.Broker.ClientID, statusOnline, ""))

	c.mu.RLock()
	hook := c.onUp
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) connectionLost(err error) {
	c.mu.Lock()
	c.up = false
	hook := c.onDown
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close replaces the retained status with a graceful "offline" (distinct
// from the LWT reason) and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(c.topics.SystemHealth(), c.qos(), true,
			statusPayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown))
		tok.WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.setUp(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: nil when connected, ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	if c.paho == nil {
		return false
	}
	c.mu.RLock()
	up := c.up
	c.mu.RUnlock()
	return up && c.paho.IsConnected()
}

// SetOnConnect registers a hook run after every successful (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onUp = hook
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the connection drops.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDown = hook
	c.mu.Unlock()
}

// SetLogger enables logging of handler failures and reconnects.
func (c *Client) SetLogger(log Logger) {
	c.mu.Lock()
	c.log = log
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Error(msg, args...)
	}
}
