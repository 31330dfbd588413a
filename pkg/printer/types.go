// Package printer pkg/printer/types.go
package printer

import "time"

// Status is the discrete health classification of a device.
type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "Warning"
	StatusError   Status = "Error"
	StatusOffline Status = "Offline"
	StatusUnknown Status = "Unknown"
)

// Severity labels for printer alerts, from the prtAlertSeverityLevel
// code space.
const (
	SeverityOther    = "Other"
	SeverityUnknown  = "Unknown"
	SeverityCritical = "Critical"
	SeverityWarning  = "Warning"
	SeverityInfo     = "Info"
)

// OfflineThreshold is how many consecutive unreachable polls it takes
// before a device is marked Offline. Below the threshold the previous
// status stands, so a single dropped packet does not flap the UI.
const OfflineThreshold = 3

// TimestampLayout is the human-readable poll timestamp format stored on
// device records.
const TimestampLayout = "2006-01-02 15:04:05"

// neverPolled is the timestamp value of a device that has not been
// polled yet.
const neverPolled = "Never"

// Device is one monitored printer. The JSON shape is the persisted
// store format; records round-trip through the store byte for byte.
type Device struct {
	Name      string `json:"name"`
	Address   string `json:"ip"`
	Community string `json:"community"`

	Model      string `json:"model"`
	Serial     string `json:"serial"`
	Status     Status `json:"status"`
	Timestamp  string `json:"timestamp"`
	TotalPages string `json:"total_pages"`

	Toner  map[string]string `json:"toner_cartridges"`
	Drums  map[string]string `json:"drum_units"`
	Other  map[string]string `json:"other"`
	Errors map[string]string `json:"errors"`

	OfflineAttempts int `json:"offline_attempts"`

	// Usage ledger: last raw lifetime counter seen, and pages printed
	// per calendar month derived from counter deltas.
	LastPageCount *int64           `json:"last_page_count,omitempty"`
	MonthlyPages  map[string]int64 `json:"monthly_pages,omitempty"`

	// NameOverridden is set once a human edits the display name;
	// discovery sync must not overwrite it afterwards.
	NameOverridden bool   `json:"name_overridden,omitempty"`
	Location       string `json:"location,omitempty"`
}

// NewDevice builds an unpolled device record.
func NewDevice(name, address, community string) *Device {
	if community == "" {
		community = "public"
	}

	return &Device{
		Name:       name,
		Address:    address,
		Community:  community,
		Model:      "N/A",
		Serial:     "N/A",
		Status:     StatusUnknown,
		Timestamp:  neverPolled,
		TotalPages: "N/A",
		Toner:      map[string]string{},
		Drums:      map[string]string{},
		Other:      map[string]string{},
		Errors:     map[string]string{},
	}
}

// Touch stamps the record with the poll time.
func (d *Device) Touch(now time.Time) {
	d.Timestamp = now.Format(TimestampLayout)
}
