// Package printer pkg/printer/usage.go
package printer

import (
	"strconv"
	"strings"
	"time"
)

// monthKey buckets the usage ledger by calendar month.
func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// AccumulateUsage folds a freshly polled lifetime page counter into the
// device's monthly ledger. Must run before TotalPages/LastPageCount are
// overwritten, since the delta needs the prior baseline.
//
// The first observation only establishes the baseline. A counter that
// went backwards (device reset, board swap) rebases without recording a
// delta, so the ledger never decreases.
func AccumulateUsage(d *Device, pageCount string, now time.Time) {
	newCount, err := strconv.ParseInt(strings.TrimSpace(pageCount), 10, 64)
	if err != nil {
		return
	}

	if d.LastPageCount == nil {
		d.LastPageCount = &newCount
		return
	}

	delta := newCount - *d.LastPageCount
	if delta < 0 {
		d.LastPageCount = &newCount
		return
	}

	if delta > 0 {
		if d.MonthlyPages == nil {
			d.MonthlyPages = map[string]int64{}
		}

		d.MonthlyPages[monthKey(now)] += delta
	}

	d.LastPageCount = &newCount
}
