// Package printer pkg/printer/offline.go
package printer

import "time"

// ApplyUnreachable records one failed liveness probe. The previous
// status stands until the failure count reaches OfflineThreshold;
// transient packet loss must not flap a healthy device to Offline.
func ApplyUnreachable(d *Device, now time.Time) {
	d.OfflineAttempts++
	d.Touch(now)

	if d.OfflineAttempts >= OfflineThreshold {
		d.Status = StatusOffline
	}
}

// ApplySnapshot folds a reachable snapshot into the device record:
// resets the failure counter, updates the usage ledger from the new
// page counter, replaces the descriptive and supply state, and
// reclassifies health. Reachability and data completeness are
// independent; an all-"N/A" snapshot still counts as a contact.
func ApplySnapshot(d *Device, snap *Snapshot, now time.Time) {
	d.OfflineAttempts = 0

	// Ledger first: it needs the previous counter baseline.
	AccumulateUsage(d, snap.PageCount, now)

	d.Model = snap.Model
	d.Serial = snap.Serial
	d.Toner = snap.Toner
	d.Drums = snap.Drums
	d.Other = snap.Other
	d.Errors = snap.Errors
	d.TotalPages = snap.PageCount
	d.Touch(now)

	d.Status = Classify(d.Errors, d.Toner, d.Drums)
}
