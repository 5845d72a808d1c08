// Package local talks to a machine's own API on port 8081.
//
// The local API needs a bearer token obtained from the cloud (the
// thing's communication key). Config returns the legacy configuration
// document; OpenStream subscribes to the machine's websocket and turns
// each frame into typed events.
//
// Opening the stream displaces the vendor's mobile app, which holds the
// same socket. This package does not guard against that.
package local
