// Package discovery pkg/discovery/types.go
package discovery

import (
	"time"

	"github.com/tonertrack/tonertrack/pkg/config"
)

const (
	defaultConcurrency = 16
	defaultRateLimit   = 50
	defaultCommunity   = "public"
	defaultProbeWait   = 2 * time.Second
)

// Candidate is one printer found by a network scan, carrying the
// identity fields read from the device itself.
type Candidate struct {
	Name      string `json:"name"`
	Address   string `json:"ip"`
	Community string `json:"community"`
	Location  string `json:"location,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Config tunes a scan.
type Config struct {
	// Targets are CIDR blocks ("192.168.1.0/24"), single addresses, or
	// last-octet ranges ("192.168.1.10-50").
	Targets []string `json:"targets"`

	Community   string          `json:"community,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
	RateLimit   int             `json:"rate_limit,omitempty"`
	Timeout     config.Duration `json:"timeout,omitempty"`
	Retries     int             `json:"retries,omitempty"`

	// PingFirst probes each address with ICMP before spending an SNMP
	// timeout on it. Needs a host that permits unprivileged ICMP.
	PingFirst bool `json:"ping_first,omitempty"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.Community == "" {
		out.Community = defaultCommunity
	}

	if out.Concurrency <= 0 {
		out.Concurrency = defaultConcurrency
	}

	if out.RateLimit <= 0 {
		out.RateLimit = defaultRateLimit
	}

	if time.Duration(out.Timeout) == 0 {
		out.Timeout = config.Duration(defaultProbeWait)
	}

	return out
}
