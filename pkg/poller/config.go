// Package poller pkg/poller/config.go
package poller

import (
	"time"

	"github.com/tonertrack/tonertrack/pkg/config"
	"github.com/tonertrack/tonertrack/pkg/tickets"
)

const (
	defaultListenAddr       = ":8000"
	defaultAutoPollInterval = 5 * time.Minute
	defaultErrorBackoff     = time.Minute
	defaultConcurrency      = 5
	defaultSNMPTimeout      = 2 * time.Second
	defaultSNMPRetries      = 1
	defaultHistoryRetention = 90 * 24 * time.Hour
)

// SNMPDefaults is how to talk to devices that have no per-device
// overrides.
type SNMPDefaults struct {
	Timeout config.Duration `json:"timeout"`
	Retries int             `json:"retries"`
}

// Config is the service configuration.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataDir    string `json:"data_dir"`
	StaticDir  string `json:"static_dir"`

	// AutoPollDisabled turns the background loop off; the zero value
	// keeps automatic polling on.
	AutoPollDisabled bool            `json:"auto_poll_disabled"`
	AutoPollInterval config.Duration `json:"auto_poll_interval"`
	ErrorBackoff     config.Duration `json:"error_backoff"`
	Concurrency      int             `json:"concurrency"`

	SNMP SNMPDefaults `json:"snmp"`

	HistoryRetention config.Duration `json:"history_retention"`

	Tickets tickets.Config `json:"tickets"`
}

// Validate implements config.Validator and fills defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.DataDir == "" {
		c.DataDir = "."
	}

	if c.StaticDir == "" {
		c.StaticDir = "static"
	}

	if time.Duration(c.AutoPollInterval) == 0 {
		c.AutoPollInterval = config.Duration(defaultAutoPollInterval)
	}

	if time.Duration(c.ErrorBackoff) == 0 {
		c.ErrorBackoff = config.Duration(defaultErrorBackoff)
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}

	if time.Duration(c.SNMP.Timeout) == 0 {
		c.SNMP.Timeout = config.Duration(defaultSNMPTimeout)
	}

	if c.SNMP.Retries <= 0 {
		c.SNMP.Retries = defaultSNMPRetries
	}

	if time.Duration(c.HistoryRetention) == 0 {
		c.HistoryRetention = config.Duration(defaultHistoryRetention)
	}

	return nil
}
