// Package device holds the per-device façades of lmbridge.
//
// A Machine owns the merged Snapshot of one espresso machine. Every
// transport (cloud REST, cloud push stream, local API, local event stream
// and Bluetooth) hands the façade a parsed payload; the façade turns it
// into a field-level Patch and folds it into the snapshot under its own
// lock. Nothing else writes the snapshot.
//
// # Merge rules
//
// A Patch names the fields it writes. Applying it overwrites exactly those
// fields and leaves the rest alone, so patches on disjoint fields commute
// and the later of two writers to the same field wins. A machine is
// Loaded once a full dashboard or a full local config has been merged;
// partial pushes never complete the initial load.
//
// # Commands
//
// Setters validate against the vendor-reported ranges (falling back to
// built-in defaults before the first read) before any network call.
// Power and steam prefer Bluetooth when a link and token are configured
// and fall back to the cloud on failure; every other operation is sent
// through the cloud. Power and steam changes are applied optimistically.
//
// # Registry
//
// The Registry indexes machines and grinders by serial number for the
// bridge, the HTTP API and the CLI.
//
// # Thread Safety
//
// Machine, Grinder and Registry are safe for concurrent use. Subscribers
// are invoked in merge order on the goroutine that produced the change.
package device
