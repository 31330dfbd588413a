// Package api pkg/api/server.go
//
// REST surface over the poller. All state lives behind the poller;
// handlers translate HTTP to poller calls and JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tonertrack/tonertrack/pkg/discovery"
	httpx "github.com/tonertrack/tonertrack/pkg/http"
	"github.com/tonertrack/tonertrack/pkg/poller"
	"github.com/tonertrack/tonertrack/pkg/printer"
	"github.com/tonertrack/tonertrack/pkg/snmp"
)

// APIServer exposes the device fleet over HTTP.
type APIServer struct {
	router    *mux.Router
	poller    *poller.Poller
	scanner   Scanner
	history   HistoryReader
	newClient snmp.ClientFactory
	snmpConf  poller.SNMPDefaults
	staticDir string
	hub       *Hub
}

// Option configures optional collaborators.
type Option func(*APIServer)

// WithScanner overrides the network scanner.
func WithScanner(s Scanner) Option {
	return func(a *APIServer) { a.scanner = s }
}

// WithHistoryReader enables the poll-history endpoint.
func WithHistoryReader(h HistoryReader) Option {
	return func(a *APIServer) { a.history = h }
}

// WithStaticDir serves the dashboard files from dir.
func WithStaticDir(dir string) Option {
	return func(a *APIServer) { a.staticDir = dir }
}

// WithSNMPFactory overrides the transport used by the connectivity
// test endpoint.
func WithSNMPFactory(f snmp.ClientFactory) Option {
	return func(a *APIServer) { a.newClient = f }
}

// WithHub uses an externally built event hub. The hub is created first
// when the poller needs it before the API server exists.
func WithHub(hub *Hub) Option {
	return func(a *APIServer) { a.hub = hub }
}

// NewAPIServer wires the routes. snmpConf supplies timeout and retry
// defaults for ad-hoc connectivity tests.
func NewAPIServer(p *poller.Poller, snmpConf poller.SNMPDefaults, opts ...Option) *APIServer {
	s := &APIServer{
		router:    mux.NewRouter(),
		poller:    p,
		scanner:   discovery.NewScanner(),
		newClient: snmp.NewClient,
		snmpConf:  snmpConf,
		hub:       NewHub(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	return s
}

// Hub returns the event hub; register it on the poller so live
// clients see poll results.
func (s *APIServer) Hub() *Hub {
	return s.hub
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/api/printers", s.getPrinters).Methods(http.MethodGet)
	s.router.HandleFunc("/api/printers", s.addPrinter).Methods(http.MethodPost)
	s.router.HandleFunc("/api/printers/poll-all", s.pollAll).Methods(http.MethodPost)
	s.router.HandleFunc("/api/printers/{ip}", s.getPrinter).Methods(http.MethodGet)
	s.router.HandleFunc("/api/printers/{ip}", s.updatePrinter).Methods(http.MethodPut)
	s.router.HandleFunc("/api/printers/{ip}", s.removePrinter).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/printers/{ip}/poll", s.pollPrinter).Methods(http.MethodPost)
	s.router.HandleFunc("/api/printers/{ip}/history", s.getHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/printers/{ip}/usage.csv", s.getDeviceUsageCSV).Methods(http.MethodGet)
	s.router.HandleFunc("/api/polling-status", s.getPollingStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.getStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/export", s.exportPrinters).Methods(http.MethodGet)
	s.router.HandleFunc("/api/import", s.importPrinters).Methods(http.MethodPost)
	s.router.HandleFunc("/api/usage.csv", s.getFleetUsageCSV).Methods(http.MethodGet)
	s.router.HandleFunc("/api/test-snmp/{ip}", s.testSNMP).Methods(http.MethodGet)
	s.router.HandleFunc("/api/discover/scan", s.discoverScan).Methods(http.MethodPost)
	s.router.HandleFunc("/api/discover/import", s.discoverImport).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.hub.handleWS)

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// Handler is the full middleware chain.
func (s *APIServer) Handler() http.Handler {
	return httpx.CommonMiddleware(httpx.RequestLogger(s.router))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *APIServer) getPrinters(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.poller.ListDevices()
	if err != nil {
		log.Printf("Error loading printers: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load printers")

		return
	}

	writeJSON(w, http.StatusOK, devices)
}

type printerRequest struct {
	Name      string `json:"name"`
	Address   string `json:"ip"`
	Community string `json:"community"`
	Location  string `json:"location"`
}

func (s *APIServer) addPrinter(w http.ResponseWriter, r *http.Request) {
	var req printerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if net.ParseIP(req.Address) == nil {
		writeError(w, http.StatusBadRequest, "a valid ip is required")
		return
	}

	dev := printer.NewDevice(req.Name, req.Address, req.Community)
	dev.Location = req.Location

	if err := s.poller.AddDevice(dev); err != nil {
		if errors.Is(err, poller.ErrDeviceExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		log.Printf("Error adding printer %s: %v", req.Address, err)
		writeError(w, http.StatusInternalServerError, "failed to save printer")

		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

func (s *APIServer) getPrinter(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	dev, err := s.poller.GetDevice(address)
	if err != nil {
		if errors.Is(err, poller.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "failed to load printer")

		return
	}

	writeJSON(w, http.StatusOK, dev)
}

func (s *APIServer) updatePrinter(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	var req printerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	dev, err := s.poller.UpdateDevice(address, func(d *printer.Device) {
		if req.Name != "" && req.Name != d.Name {
			d.Name = req.Name
			d.NameOverridden = true
		}

		if req.Community != "" {
			d.Community = req.Community
		}

		if req.Location != "" {
			d.Location = req.Location
		}
	})
	if err != nil {
		if errors.Is(err, poller.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "failed to update printer")

		return
	}

	writeJSON(w, http.StatusOK, dev)
}

func (s *APIServer) removePrinter(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	if err := s.poller.RemoveDevice(address); err != nil {
		if errors.Is(err, poller.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "failed to remove printer")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) pollPrinter(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	dev, err := s.poller.PollDevice(r.Context(), address)
	if err != nil {
		if errors.Is(err, poller.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		log.Printf("Error polling %s: %v", address, err)
		writeError(w, http.StatusInternalServerError, "poll failed")

		return
	}

	writeJSON(w, http.StatusOK, dev)
}

func (s *APIServer) pollAll(w http.ResponseWriter, _ *http.Request) {
	// The cycle outlives the request, so it must not inherit the
	// request context. A cycle already in flight is not an error; the
	// request just reports it.
	if !s.poller.TryStartBulk(context.Background()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "poll already in progress"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "polling started"})
}

func (s *APIServer) getPollingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.poller.Status())
}

func (s *APIServer) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "poll history is not enabled")
		return
	}

	address := mux.Vars(r)["ip"]

	if _, err := s.poller.GetDevice(address); err != nil {
		writeError(w, http.StatusNotFound, "printer not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}

		limit = n
	}

	records, err := s.history.GetHistory(address, limit)
	if err != nil {
		log.Printf("Error reading history for %s: %v", address, err)
		writeError(w, http.StatusInternalServerError, "failed to read history")

		return
	}

	writeJSON(w, http.StatusOK, records)
}

type snmpTestResponse struct {
	Reachable bool              `json:"reachable"`
	Model     string            `json:"model,omitempty"`
	Serial    string            `json:"serial,omitempty"`
	Toner     map[string]string `json:"toner_cartridges,omitempty"`
	Drums     map[string]string `json:"drum_units,omitempty"`
	Other     map[string]string `json:"other,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	PageCount string            `json:"total_pages,omitempty"`
}

// testSNMP probes one address without touching the device set. The
// community string comes from the query, defaulting to "public".
func (s *APIServer) testSNMP(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["ip"]

	if net.ParseIP(address) == nil && !isHostname(address) {
		writeError(w, http.StatusBadRequest, "a valid ip is required")
		return
	}

	community := r.URL.Query().Get("community")
	if community == "" {
		community = "public"
	}

	client, err := s.newClient(&snmp.Target{
		Host:      address,
		Community: community,
		Timeout:   s.snmpConf.Timeout,
		Retries:   s.snmpConf.Retries,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, snmpTestResponse{Reachable: false})
		return
	}

	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close test connection to %s: %v", address, err)
		}
	}()

	snap := printer.FetchSnapshot(client)
	if snap.Unreachable {
		writeJSON(w, http.StatusOK, snmpTestResponse{Reachable: false})
		return
	}

	writeJSON(w, http.StatusOK, snmpTestResponse{
		Reachable: true,
		Model:     snap.Model,
		Serial:    snap.Serial,
		Toner:     snap.Toner,
		Drums:     snap.Drums,
		Other:     snap.Other,
		Errors:    snap.Errors,
		PageCount: snap.PageCount,
	})
}

func isHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}

	return !strings.HasPrefix(s, "-") && !strings.HasSuffix(s, "-")
}

func (s *APIServer) discoverScan(w http.ResponseWriter, r *http.Request) {
	var cfg discovery.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(cfg.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets are required")
		return
	}

	found, err := s.scanner.Scan(r.Context(), &cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if found == nil {
		found = []discovery.Candidate{}
	}

	writeJSON(w, http.StatusOK, found)
}

type discoverImportReport struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

func (s *APIServer) discoverImport(w http.ResponseWriter, r *http.Request) {
	var found []discovery.Candidate
	if err := json.NewDecoder(r.Body).Decode(&found); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	added, updated, err := s.poller.ImportDiscovered(found)
	if err != nil {
		log.Printf("Error importing scan results: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to import scan results")

		return
	}

	writeJSON(w, http.StatusOK, discoverImportReport{Added: added, Updated: updated})
}

func (s *APIServer) exportPrinters(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.poller.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load printers")
		return
	}

	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode printers")
		return
	}

	filename := "printers-" + time.Now().Format("20060102") + ".json"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing export: %v", err)
	}
}
