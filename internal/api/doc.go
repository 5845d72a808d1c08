// Package api provides the HTTP API and WebSocket hub of the bridge daemon.
//
// Routes:
//
//	GET  /                                   redirect to the status page
//	GET  /panel/                             status page (package panel)
//	GET  /api/v1/health                      bridge health document
//	GET  /api/v1/metrics                     runtime and device statistics
//	GET  /api/v1/machines                    all machine and grinder snapshots
//	GET  /api/v1/machines/{serial}           one snapshot
//	GET  /api/v1/machines/{serial}/history   state history (?limit=, ?since=)
//	POST /api/v1/machines/{serial}/{field}   run a command; body as on MQTT
//	GET  /api/v1/audit                       recorded commands (?serial=, ?status=, ?limit=, ?offset=)
//	GET  /api/v1/ws                          WebSocket snapshot events
//
// Commands go through the same dispatcher as the MQTT set topics and answer
// with the same acknowledgement document.
//
// WebSocket clients subscribe to "device.state_changed" or to
// "device.{serial}":
//
//	{"type":"subscribe","id":"1","payload":{"channels":["device.state_changed"]}}
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
