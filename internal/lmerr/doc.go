// Package lmerr defines the error taxonomy shared by every La Marzocco transport.
//
// Transports never return raw HTTP or radio errors to the façade. They map
// failures onto a small set of sentinels so callers can branch with errors.Is:
//
//	┌──────────────────────┬────────────────────────────────────────────┐
//	│ ErrAuth              │ bad credentials, rejected token (401/403)  │
//	│ ErrNotFound          │ unknown serial or resource (404)           │
//	│ ErrValidation        │ client-side range check, no network call   │
//	│ ErrTransient         │ 5xx or timeout, caller may retry           │
//	│ ErrRateLimited       │ 429, honour RetryAfter                     │
//	│ ErrConnection        │ local/BLE unreachable, fall back           │
//	│ ErrPairingMode...    │ BLE token read outside pairing mode        │
//	└──────────────────────┴────────────────────────────────────────────┘
//
// Typed errors (RateLimitedError, ValidationError, StatusError) carry detail
// and unwrap to their sentinel, so errors.As and errors.Is both work.
package lmerr
