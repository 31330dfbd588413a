// Package tickets pkg/tickets/ninja.go files helpdesk tickets when a
// printer degrades. The endpoint speaks the NinjaRMM ticketing API; the
// token comes from configuration or the NINJA_API_TOKEN environment
// variable.
package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tonertrack/tonertrack/pkg/config"
	"github.com/tonertrack/tonertrack/pkg/printer"
)

var (
	errTicketsDisabled = fmt.Errorf("ticket client is disabled")
	errTicketCooldown  = fmt.Errorf("ticket is within cooldown period")
	errTicketStatus    = fmt.Errorf("ticket API returned non-2xx status")
)

const (
	defaultBaseURL  = "https://app.ninjarmm.com/v2"
	defaultCooldown = 24 * time.Hour
	requestTimeout  = 15 * time.Second
)

// Config configures the ticket client.
type Config struct {
	Enabled      bool            `json:"enabled"`
	BaseURL      string          `json:"base_url,omitempty"`
	Token        string          `json:"token,omitempty"`
	ClientID     int             `json:"client_id"`
	TicketFormID int             `json:"ticket_form_id"`
	LocationID   int             `json:"location_id"`
	NodeID       int             `json:"node_id"`
	Cooldown     config.Duration `json:"cooldown,omitempty"`
}

// Client files tickets with a per-device cooldown so a printer that
// stays broken does not open a ticket on every poll cycle.
type Client struct {
	config     Config
	httpClient *http.Client

	mu              sync.Mutex
	lastTicketTimes map[string]time.Time
}

// NewClient builds a ticket client. Token falls back to the
// NINJA_API_TOKEN environment variable.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("NINJA_API_TOKEN")
	}

	if time.Duration(cfg.Cooldown) == 0 {
		cfg.Cooldown = config.Duration(defaultCooldown)
	}

	return &Client{
		config:          cfg,
		httpClient:      &http.Client{Timeout: requestTimeout},
		lastTicketTimes: make(map[string]time.Time),
	}
}

// StatusChanged reports a device health transition. Only transitions
// into Error or Offline file a ticket; everything else is ignored.
func (c *Client) StatusChanged(ctx context.Context, dev *printer.Device, previous printer.Status) {
	if dev.Status != printer.StatusError && dev.Status != printer.StatusOffline {
		return
	}

	if dev.Status == previous {
		return
	}

	subject := fmt.Sprintf("Printer %s (%s) is %s", dev.Name, dev.Address, dev.Status)
	body := ticketBody(dev, previous)

	if err := c.CreateTicket(ctx, dev.Address, subject, body); err != nil {
		if err == errTicketCooldown || err == errTicketsDisabled {
			return
		}

		log.Printf("Failed to file ticket for %s: %v", dev.Address, err)
	}
}

// CreateTicket files one ticket, honoring the per-device cooldown.
func (c *Client) CreateTicket(ctx context.Context, deviceKey, subject, body string) error {
	if !c.config.Enabled || c.config.Token == "" {
		return errTicketsDisabled
	}

	if !c.checkCooldown(deviceKey) {
		return errTicketCooldown
	}

	payload := map[string]interface{}{
		"clientId":     c.config.ClientID,
		"ticketFormId": c.config.TicketFormID,
		"locationId":   c.config.LocationID,
		"nodeId":       c.config.NodeID,
		"subject":      subject,
		"description": map[string]interface{}{
			"public":   true,
			"body":     body,
			"htmlBody": "<p>" + body + "</p>",
		},
		"status":   "1000", // Open
		"type":     "PROBLEM",
		"severity": "NONE",
		"priority": "NONE",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/ticketing/ticket", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("%w: %d: %s", errTicketStatus, resp.StatusCode, string(respBody))
	}

	c.markSent(deviceKey)

	return nil
}

func (c *Client) checkCooldown(deviceKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastTicketTimes[deviceKey]
	if ok && time.Since(last) < time.Duration(c.config.Cooldown) {
		return false
	}

	return true
}

func (c *Client) markSent(deviceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastTicketTimes[deviceKey] = time.Now()
}

func ticketBody(dev *printer.Device, previous printer.Status) string {
	body := fmt.Sprintf("Printer %s at %s changed from %s to %s.",
		dev.Name, dev.Address, previous, dev.Status)

	if len(dev.Errors) > 0 {
		body += " Active alerts:"
		for desc, severity := range dev.Errors {
			body += fmt.Sprintf(" %s (%s);", desc, severity)
		}
	}

	return body
}
