// Package api pkg/api/import_export.go
package api

import (
	"encoding/csv"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tonertrack/tonertrack/pkg/printer"
)

type importReport struct {
	Imported int               `json:"imported"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

// importPrinters merges an export file into the device set: imported
// addresses overwrite their existing records, everything else is kept.
// Records are rebuilt through validated construction rather than
// trusted wholesale; each rejected record is reported with its reason.
func (s *APIServer) importPrinters(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	devices := map[string]*printer.Device{}
	report := importReport{Skipped: map[string]string{}}

	for key, rec := range raw {
		dev, reason := buildImportedDevice(key, rec)
		if reason != "" {
			report.Skipped[key] = reason
			continue
		}

		devices[dev.Address] = dev
		report.Imported++
	}

	if err := s.poller.MergeDevices(devices); err != nil {
		log.Printf("Error importing printers: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save imported printers")

		return
	}

	if len(report.Skipped) == 0 {
		report.Skipped = nil
	}

	writeJSON(w, http.StatusOK, report)
}

// buildImportedDevice validates one imported record and rebuilds it on
// top of a fresh device so missing fields get their defaults instead
// of zero values. Returns a non-empty reason when the record is
// rejected.
func buildImportedDevice(key string, rec json.RawMessage) (*printer.Device, string) {
	var in printer.Device
	if err := json.Unmarshal(rec, &in); err != nil {
		return nil, "malformed record"
	}

	if in.Name == "" {
		return nil, "missing name"
	}

	if net.ParseIP(in.Address) == nil {
		return nil, "missing or invalid ip"
	}

	if key != in.Address {
		return nil, "key does not match record ip"
	}

	dev := printer.NewDevice(in.Name, in.Address, in.Community)

	if in.Model != "" {
		dev.Model = in.Model
	}

	if in.Serial != "" {
		dev.Serial = in.Serial
	}

	if in.Status != "" {
		dev.Status = in.Status
	}

	if in.Timestamp != "" {
		dev.Timestamp = in.Timestamp
	}

	if in.TotalPages != "" {
		dev.TotalPages = in.TotalPages
	}

	if in.Toner != nil {
		dev.Toner = in.Toner
	}

	if in.Drums != nil {
		dev.Drums = in.Drums
	}

	if in.Other != nil {
		dev.Other = in.Other
	}

	if in.Errors != nil {
		dev.Errors = in.Errors
	}

	dev.OfflineAttempts = in.OfflineAttempts
	dev.LastPageCount = in.LastPageCount
	dev.MonthlyPages = in.MonthlyPages
	dev.NameOverridden = in.NameOverridden
	dev.Location = in.Location

	return dev, ""
}

type fleetStats struct {
	TotalPrinters    int            `json:"total_printers"`
	ByStatus         map[string]int `json:"by_status"`
	PagesThisMonth   int64          `json:"pages_this_month"`
	LowTonerPrinters int            `json:"low_toner_printers"`
	ActiveAlerts     int            `json:"active_alerts"`
}

const lowTonerBelow = 20

func (s *APIServer) getStats(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.poller.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load printers")
		return
	}

	stats := fleetStats{
		TotalPrinters: len(devices),
		ByStatus:      map[string]int{},
	}

	month := time.Now().Format("2006-01")

	for _, dev := range devices {
		stats.ByStatus[string(dev.Status)]++
		stats.PagesThisMonth += dev.MonthlyPages[month]
		stats.ActiveAlerts += len(dev.Errors)

		for _, level := range dev.Toner {
			if pct, ok := parsePercent(level); ok && pct < lowTonerBelow {
				stats.LowTonerPrinters++
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func parsePercent(value string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil {
		return 0, false
	}

	return n, true
}

// getDeviceUsageCSV streams one printer's monthly page counts.
func (s *APIServer) getDeviceUsageCSV(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	dev, err := s.poller.GetDevice(address)
	if err != nil {
		writeError(w, http.StatusNotFound, "printer not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="usage-`+address+`.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"month", "pages"})

	for _, month := range sortedMonths(dev.MonthlyPages) {
		_ = cw.Write([]string{month, strconv.FormatInt(dev.MonthlyPages[month], 10)})
	}

	cw.Flush()
}

// getFleetUsageCSV streams monthly page counts for every printer.
func (s *APIServer) getFleetUsageCSV(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.poller.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load printers")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ip", "name", "month", "pages"})

	addresses := make([]string, 0, len(devices))
	for address := range devices {
		addresses = append(addresses, address)
	}

	sort.Strings(addresses)

	for _, address := range addresses {
		dev := devices[address]
		for _, month := range sortedMonths(dev.MonthlyPages) {
			_ = cw.Write([]string{
				address,
				dev.Name,
				month,
				strconv.FormatInt(dev.MonthlyPages[month], 10),
			})
		}
	}

	cw.Flush()
}

func sortedMonths(usage map[string]int64) []string {
	months := make([]string, 0, len(usage))
	for month := range usage {
		months = append(months, month)
	}

	sort.Strings(months)

	return months
}
