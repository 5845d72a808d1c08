// Package panel serves the bridge status page as embedded assets.
//
// The page lists every machine and grinder from GET /api/v1/machines,
// follows snapshot changes over the WebSocket hub and can toggle power.
// It is mounted under /panel/ by the API server.
//
// Assets are embedded with go:embed. A directory configured as
// api.panel_dir replaces them at runtime, which is handy while editing the
// page. Unknown paths fall back to index.html.
package panel
