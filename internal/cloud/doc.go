// Package cloud talks to the La Marzocco customer-app API.
//
// A Client owns the HTTP transport, the installation key that signs every
// request, and the access token. Tokens are obtained lazily and refreshed
// through a single flight so concurrent callers never sign in twice. A 401
// on any call triggers exactly one refresh-and-retry.
//
// DashboardStream keeps a STOMP-over-websocket subscription to one
// machine's dashboard. Pushed updates are delivered to the handler in
// receipt order from a single reader goroutine, and the stream reconnects
// with capped exponential backoff until Close is called.
//
// Commands sent while a stream is open for the same serial wait for the
// machine to confirm them over the stream before returning.
package cloud
