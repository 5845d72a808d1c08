package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "lmbridge"

// Topic path segments below {prefix}/{serial}.
const (
	segmentState        = "state"
	segmentAvailability = "availability"
	segmentSet          = "set"
	segmentAck          = "ack"
	segmentSystem       = "system"
)

// Topics builds the bridge's MQTT topics under a configurable prefix.
//
//	topics := mqtt.Topics{Prefix: "lmbridge"}
//	topics.DeviceState("LM012345")
//	// Returns: "lmbridge/LM012345/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// DeviceState returns the retained snapshot topic for a device.
//
// Example: lmbridge/LM012345/state
func (t Topics) DeviceState(serial string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), serial, segmentState)
}

// DeviceAvailability returns the retained online/offline topic for a device.
//
// Example: lmbridge/LM012345/availability
func (t Topics) DeviceAvailability(serial string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), serial, segmentAvailability)
}

// DeviceSet returns the command topic for one settable field.
//
// Example: lmbridge/LM012345/set/power
func (t Topics) DeviceSet(serial, field string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.prefix(), serial, segmentSet, field)
}

// DeviceAck returns the topic command results are published on.
//
// Example: lmbridge/LM012345/ack
func (t Topics) DeviceAck(serial string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), serial, segmentAck)
}

// SystemHealth returns the bridge health topic. It also carries the LWT.
//
// Example: lmbridge/system/health
func (t Topics) SystemHealth() string {
	return fmt.Sprintf("%s/%s/health", t.prefix(), segmentSystem)
}

// AllDeviceSets returns a pattern matching every command topic.
//
// Pattern: lmbridge/+/set/+
func (t Topics) AllDeviceSets() string {
	return fmt.Sprintf("%s/+/%s/+", t.prefix(), segmentSet)
}

// ParseDeviceSet splits a command topic into serial and field.
// It reports false for any topic that is not {prefix}/{serial}/set/{field}.
//
// Parameters:
//   - topic: Topic of an inbound command message
//
// Returns:
//   - serial: Machine serial
//   - field: Settable field name, for example power
//   - ok: false if topic is not a command topic
func (t Topics) ParseDeviceSet(topic string) (serial, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != segmentSet || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	if parts[0] == segmentSystem {
		return "", "", false
	}
	return parts[0], parts[2], true
}
