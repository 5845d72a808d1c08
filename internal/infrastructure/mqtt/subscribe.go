package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler receives one inbound message on a paho goroutine. A
// returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Subscribe routes messages matching topic (which may use + and #) to
// handler. The route survives reconnects.
//
// Parameters:
//   - topic: Topic or pattern to subscribe to
//   - qos: Maximum QoS for delivered messages
//   - handler: Called for each message
//
// Returns:
//   - error: nil on success, or a wrapped ErrSubscribeFailed
//
// Example:
//
//	topics := client.Topics()
//	err := client.Subscribe(topics.AllDeviceSets(), 1, func(topic string, payload []byte) error {
//	    serial, field, _ := topics.ParseDeviceSet(topic)
//	    return dispatch(serial, field, payload)
//	})
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Registered first so a reconnect racing the SUBACK still restores it.
	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.paho.Subscribe(topic, qos, c.deliver(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.routes, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the route for topic. Messages already queued by paho
// may still arrive.
//
// Parameters:
//   - topic: Topic exactly as passed to Subscribe
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic or ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()

	return await(c.paho.Unsubscribe(topic), ackTimeout, ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of routes.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// HasSubscription reports whether topic has a route. Wildcards are
// compared literally.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[topic]
	return ok
}

// resubscribe replays every route after a reconnect. Failures are only
// logged; paho retries on the next reconnect.
func (c *Client) resubscribe() {
	c.mu.RLock()
	routes := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		routes[topic] = r
	}
	c.mu.RUnlock()

	for topic, r := range routes {
		tok := c.paho.Subscribe(topic, r.qos, c.deliver(r.handler))
		go func() {
			if err := await(tok, ackTimeout, ErrSubscribeFailed); err != nil {
				c.logWarn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}()
	}
}

// deliver adapts a MessageHandler to paho, logging its error and
// recovering a panic so one bad command cannot kill the router.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			c.logWarn("MQTT handler failed", "topic", topic, "error", err)
		}
	}
}
