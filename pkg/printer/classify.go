// Package printer pkg/printer/classify.go
package printer

import (
	"strconv"
	"strings"
)

// Supply percentage thresholds for health classification.
const (
	supplyErrorBelow   = 10
	supplyWarningBelow = 20
)

// Classify derives a health status from the current error and supply
// state. Errors dominate: one critical alert makes the device Error
// even with full supplies, and any surfaced alert at all is at least a
// Warning. Only then are toner and drum levels scanned.
func Classify(errs, toner, drums map[string]string) Status {
	if len(errs) > 0 {
		for _, severity := range errs {
			if severity == SeverityCritical {
				return StatusError
			}
		}

		return StatusWarning
	}

	status := StatusOK

	for _, supplies := range []map[string]string{toner, drums} {
		for _, value := range supplies {
			level, ok := parsePercent(value)
			if !ok {
				continue
			}

			if level < supplyErrorBelow {
				return StatusError
			}

			if level < supplyWarningBelow {
				status = StatusWarning
			}
		}
	}

	return status
}

// parsePercent extracts the integer out of a "NN%" supply string.
// Non-percentage values ("OK", "Unknown", "N/A", "Invalid") carry no
// level information and are skipped.
func parsePercent(value string) (int, bool) {
	if !strings.HasSuffix(value, "%") {
		return 0, false
	}

	level, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil {
		return 0, false
	}

	return level, true
}
