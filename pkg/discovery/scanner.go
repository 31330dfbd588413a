// Package discovery pkg/discovery/scanner.go
package discovery

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonertrack/tonertrack/pkg/snmp"
)

const (
	oidSysName     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation = "1.3.6.1.2.1.1.6.0"
	oidModel       = "1.3.6.1.2.1.25.3.2.1.3.1"

	// Presence of the supply table is what separates a printer from
	// every other SNMP speaker on the subnet.
	oidSupplyDescBase = "1.3.6.1.2.1.43.11.1.1.6.1"
)

// Scanner probes address ranges for printers. Probes run on a bounded
// worker pool throttled by a token-bucket limiter so a scan never
// floods the network.
type Scanner struct {
	newClient snmp.ClientFactory
	pinger    pinger
}

// NewScanner builds a scanner using the real SNMP transport.
func NewScanner() *Scanner {
	return &Scanner{newClient: snmp.NewClient}
}

// Scan probes every address in cfg.Targets and returns the printers
// found. Unreachable and non-printer addresses are silently skipped;
// only malformed targets are errors.
func (s *Scanner) Scan(ctx context.Context, cfg *Config) ([]Candidate, error) {
	conf := cfg.withDefaults()

	addrs, err := expandTargets(conf.Targets)
	if err != nil {
		return nil, err
	}

	ping := s.pinger
	if ping == nil && conf.PingFirst {
		ping = newICMPPinger(time.Duration(conf.Timeout))
	}

	limiter := rate.NewLimiter(rate.Limit(conf.RateLimit), conf.Concurrency)

	var (
		mu    sync.Mutex
		found []Candidate
		wg    sync.WaitGroup
	)

	sem := make(chan struct{}, conf.Concurrency)

	for _, addr := range addrs {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if ping != nil && !ping.Ping(ctx, addr) {
				return
			}

			cand, ok := s.probe(addr, &conf)
			if !ok {
				return
			}

			mu.Lock()
			found = append(found, cand)
			mu.Unlock()
		}(addr)
	}

	wg.Wait()

	log.Printf("Scan finished: %d addresses probed, %d printers found", len(addrs), len(found))

	return found, nil
}

// probe asks one address whether it is a printer. A device counts as a
// printer when it exposes the supply description table.
func (s *Scanner) probe(addr string, conf *Config) (Candidate, bool) {
	client, err := s.newClient(&snmp.Target{
		Host:      addr,
		Community: conf.Community,
		Timeout:   conf.Timeout,
		Retries:   conf.Retries,
	})
	if err != nil {
		return Candidate{}, false
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close probe connection to %s: %v", addr, err)
		}
	}()

	supplies, err := client.Walk(oidSupplyDescBase)
	if err != nil || len(supplies) == 0 {
		return Candidate{}, false
	}

	cand := Candidate{
		Name:      addr,
		Address:   addr,
		Community: conf.Community,
	}

	if res := client.Get(oidSysName); res.Ok() && res.Value != "" {
		cand.Name = res.Value
	}

	if res := client.Get(oidSysLocation); res.Ok() {
		cand.Location = res.Value
	}

	if res := client.Get(oidModel); res.Ok() {
		cand.Model = res.Value
	}

	return cand, true
}
