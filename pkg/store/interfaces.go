// Package store pkg/store/interfaces.go
package store

import "github.com/tonertrack/tonertrack/pkg/printer"

// Store persists the full device-record set. The set is the unit of
// persistence: Save rewrites everything atomically, so no record is
// ever half-written.
type Store interface {
	// Load returns the device set keyed by network address. A missing
	// backing file yields an empty set, not an error.
	Load() (map[string]*printer.Device, error)
	// Save atomically replaces the device set.
	Save(devices map[string]*printer.Device) error
}
