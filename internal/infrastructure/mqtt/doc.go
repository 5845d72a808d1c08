// Package mqtt connects the bridge to an MQTT broker.
//
// Each managed device gets a small topic tree under a configurable prefix
// (default "lmbridge"):
//
//	lmbridge/{serial}/state          retained JSON snapshot
//	lmbridge/{serial}/availability   retained "online" or "offline"
//	lmbridge/{serial}/set/{field}    commands from home automation
//	lmbridge/{serial}/ack            command results
//	lmbridge/system/health           bridge status, also the LWT
//
// The client reconnects automatically and restores its subscriptions. On
// every connect it publishes a retained "online" status to the health
// topic; the broker replaces it with the LWT if the bridge dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishJSON(topics.DeviceState("LM012345"), snapshot, true)
//
// Use TLS (broker.tls) whenever the broker is not on the same host.
package mqtt
