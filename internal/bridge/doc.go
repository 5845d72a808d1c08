// Package bridge connects the device façades to MQTT.
//
// Every machine and grinder in the registry gets a retained state document
// and an availability flag. Commands arrive on per-field set topics and
// are acknowledged on the device's ack topic:
//
//	lmbridge/{serial}/state          retained snapshot JSON
//	lmbridge/{serial}/availability   retained "online" / "offline"
//	lmbridge/{serial}/set/{field}    command payload
//	lmbridge/{serial}/ack            AckMessage JSON
//	lmbridge/system/health           retained HealthMessage JSON
//
// The bridge also runs the background jobs of the daemon: a fallback poll
// while a machine's cloud stream is down, the statistics poller that feeds
// InfluxDB, and state history pruning.
//
// The Dispatcher that parses set payloads is shared with the HTTP API, so
// a command behaves the same whichever way it arrives.
package bridge
