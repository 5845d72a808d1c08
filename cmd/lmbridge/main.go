// lmbridge connects La Marzocco espresso machines and grinders to an MQTT
// broker, InfluxDB and a small HTTP API.
//
// The serve command runs the bridge daemon. The remaining commands are
// one-shot helpers for setting up an installation: listing the account's
// machines, re-registering the installation key, scanning for machines
// over Bluetooth and dumping extended statistics.
package main

import (
	"fmt"
	"os"

	_ "github.com/nerrad567/lmbridge/migrations"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lmbridge:", err)
		os.Exit(1)
	}
}
