package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize matches the default packet limit of common brokers.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge
// it (for QoS > 0). Device state and availability go out retained; acks
// do not.
//
// Parameters:
//   - topic: Full topic, built with Topics
//   - payload: Message body
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed)
}

// PublishJSON encodes v and publishes it at the configured QoS.
//
// Parameters:
//   - topic: Full topic
//   - v: Value to encode
//   - retained: Whether the broker keeps the message
//
// Returns:
//   - error: If encoding or publishing fails
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, c.qos(), retained)
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated by config
}
