// Package printer pkg/printer/interpreter.go
package printer

import (
	"math"
	"strconv"
	"strings"

	"github.com/tonertrack/tonertrack/pkg/snmp"
)

// Printer-MIB and HOST-RESOURCES-MIB locations the interpreter reads.
const (
	oidSysDescr = "1.3.6.1.2.1.1.1.0"
	oidModel    = "1.3.6.1.2.1.25.3.2.1.3.1"
	oidSerial   = "1.3.6.1.2.1.43.5.1.1.17.1"

	// prtMarkerSupplies columns; the trailing .1 is the marker index,
	// supply indices come from walking the description column.
	oidSupplyDescBase  = "1.3.6.1.2.1.43.11.1.1.6.1"
	oidSupplyMaxBase   = "1.3.6.1.2.1.43.11.1.1.8.1"
	oidSupplyLevelBase = "1.3.6.1.2.1.43.11.1.1.9.1"

	oidAlertSevBase  = "1.3.6.1.2.1.43.18.1.1.2"
	oidAlertDescBase = "1.3.6.1.2.1.43.18.1.1.8"

	oidPageCount = "1.3.6.1.2.1.43.10.2.1.4.1.1"
)

// prtMarkerSuppliesLevel sentinels: the device knows there is some
// supply left but not how much, or the supply is not metered at all.
const (
	levelSomeRemaining = -2
	levelUnrestricted  = -3
)

// Snapshot is the normalized result of one status query against a
// device. Missing fields default to "N/A"; partial data is valid data.
type Snapshot struct {
	Unreachable bool

	Model  string
	Serial string

	Toner  map[string]string
	Drums  map[string]string
	Other  map[string]string
	Errors map[string]string

	PageCount string
}

// FetchSnapshot queries one device and interprets the raw responses
// into a Snapshot. The first fetch is a liveness probe: when it gets no
// answer the snapshot is tagged unreachable and no further queries are
// issued, so a dead device costs one timeout instead of a dozen.
func FetchSnapshot(client snmp.Client) *Snapshot {
	snap := &Snapshot{
		Model:     "N/A",
		Serial:    "N/A",
		Toner:     map[string]string{},
		Drums:     map[string]string{},
		Other:     map[string]string{},
		Errors:    map[string]string{},
		PageCount: "N/A",
	}

	// Absence and timeout fold together at the probe: a device that
	// cannot produce sysDescr is not a device we can read.
	if res := client.Get(oidSysDescr); !res.Ok() {
		snap.Unreachable = true
		return snap
	}

	if res := client.Get(oidModel); res.Ok() {
		snap.Model = res.Value
	}

	if res := client.Get(oidSerial); res.Ok() {
		snap.Serial = res.Value
	}

	fetchSupplies(client, snap)
	fetchAlerts(client, snap)

	if res := client.Get(oidPageCount); res.Ok() {
		snap.PageCount = res.Value
	}

	return snap
}

// fetchSupplies discovers supply indices from the description column
// and reads level/capacity per index. Indices are never hardcoded;
// vendors number their supply tables differently.
func fetchSupplies(client snmp.Client, snap *Snapshot) {
	descs, err := client.Walk(oidSupplyDescBase)
	if err != nil {
		return
	}

	for _, entry := range descs {
		index := entry.OID[strings.LastIndex(entry.OID, ".")+1:]

		name := strings.TrimSpace(entry.Value)
		// HP reports placeholder rows named "Unknown" for empty slots.
		if name == "" || strings.EqualFold(name, "unknown") {
			continue
		}

		level := client.Get(oidSupplyLevelBase + "." + index)
		maxCap := client.Get(oidSupplyMaxBase + "." + index)

		if !level.Ok() || !maxCap.Ok() {
			continue
		}

		percent := supplyPercentage(level.Value, maxCap.Value)

		switch categorizeSupply(name) {
		case categoryToner:
			snap.Toner[name] = percent
		case categoryDrum:
			snap.Drums[name] = percent
		default:
			snap.Other[name] = percent
		}
	}
}

// fetchAlerts walks the alert description column paired, by index
// suffix, with the severity column, and surfaces only alerts that an
// operator should act on.
func fetchAlerts(client snmp.Client, snap *Snapshot) {
	descs, err := client.Walk(oidAlertDescBase)
	if err != nil {
		return
	}

	sevs, err := client.Walk(oidAlertSevBase)
	if err != nil {
		sevs = nil
	}

	sevByOID := make(map[string]string, len(sevs))
	for _, entry := range sevs {
		sevByOID[entry.OID] = entry.Value
	}

	for _, entry := range descs {
		suffix := strings.TrimPrefix(entry.OID, oidAlertDescBase+".")

		code, ok := sevByOID[oidAlertSevBase+"."+suffix]
		if !ok {
			code = SeverityUnknown
		}

		severity := mapSeverity(code)
		if severity == SeverityCritical || severity == SeverityWarning {
			snap.Errors[entry.Value] = severity
		}
	}
}

// supplyPercentage renders a supply level/capacity pair the way the UI
// shows it. The -2/-3 sentinels come from the Printer-MIB supply model.
func supplyPercentage(level, maxCap string) string {
	levelInt, err := strconv.Atoi(strings.TrimSpace(level))
	if err != nil {
		return "Invalid"
	}

	maxInt, err := strconv.Atoi(strings.TrimSpace(maxCap))
	if err != nil {
		return "Invalid"
	}

	switch {
	case levelInt == levelSomeRemaining:
		return "Unknown"
	case levelInt == levelUnrestricted:
		return "OK"
	case maxInt > 0:
		// Half-way values round up: 12.5% renders as 13%.
		pct := int(math.Round(float64(levelInt) / float64(maxInt) * 100))
		return strconv.Itoa(pct) + "%"
	default:
		return "N/A"
	}
}

type supplyCategory int

const (
	categoryToner supplyCategory = iota
	categoryDrum
	categoryOther
)

func categorizeSupply(name string) supplyCategory {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "toner"):
		return categoryToner
	case strings.Contains(lower, "drum"):
		return categoryDrum
	default:
		return categoryOther
	}
}

// mapSeverity translates prtAlertSeverityLevel codes; codes outside the
// standard space pass through verbatim so nothing is silently dropped.
func mapSeverity(code string) string {
	switch code {
	case "1":
		return SeverityOther
	case "2":
		return SeverityUnknown
	case "3":
		return SeverityCritical
	case "4":
		return SeverityWarning
	case "5":
		return SeverityInfo
	default:
		return code
	}
}
