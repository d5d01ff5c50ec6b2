// Package facility holds the customer catalogue: customers, facilities,
// device types and devices, backed by SQLite.
//
// A facility's effective window bounds every contractor token minted for it.
// Editing the window through UpdateFacility immediately narrows or widens
// which previously issued tokens the access gate accepts.
package facility
