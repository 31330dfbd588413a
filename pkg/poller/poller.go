// Package poller pkg/poller/poller.go
//
// The poller owns the device set: it serializes every read-modify-write
// of the store, runs the polling cycles, and fans results out to the
// history database, the alerter and live event subscribers. Snapshots
// are fetched without holding the store lock, so a subnet of timed-out
// devices never blocks API reads or writes.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tonertrack/tonertrack/pkg/db"
	"github.com/tonertrack/tonertrack/pkg/discovery"
	"github.com/tonertrack/tonertrack/pkg/printer"
	"github.com/tonertrack/tonertrack/pkg/snmp"
	"github.com/tonertrack/tonertrack/pkg/store"
)

// Event types pushed to subscribers.
const (
	EventDeviceAdded    = "device_added"
	EventDeviceUpdated  = "device_updated"
	EventDeviceRemoved  = "device_removed"
	EventBulkStarted    = "bulk_started"
	EventBulkCompleted  = "bulk_completed"
	EventDevicesLoaded  = "devices_imported"
)

// Poller coordinates polling across the device set.
type Poller struct {
	cfg       *Config
	store     store.Store
	history   History
	alerter   Alerter
	events    EventPublisher
	newClient snmp.ClientFactory
	now       func() time.Time

	// storeMu serializes read-modify-write cycles against the store.
	storeMu sync.Mutex

	mu        sync.Mutex
	polling   bool
	lastPoll  time.Time
	lastError string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Poller)

// WithHistory records every poll outcome to h.
func WithHistory(h History) Option {
	return func(p *Poller) { p.history = h }
}

// WithAlerter notifies a on status transitions.
func WithAlerter(a Alerter) Option {
	return func(p *Poller) { p.alerter = a }
}

// WithEvents publishes state changes to pub.
func WithEvents(pub EventPublisher) Option {
	return func(p *Poller) { p.events = pub }
}

// WithClientFactory overrides the SNMP transport. Tests use this to
// substitute scripted devices.
func WithClientFactory(f snmp.ClientFactory) Option {
	return func(p *Poller) { p.newClient = f }
}

// New builds a poller over the given store.
func New(cfg *Config, st store.Store, opts ...Option) *Poller {
	p := &Poller{
		cfg:       cfg,
		store:     st,
		newClient: snmp.NewClient,
		now:       time.Now,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches the automatic polling loop, unless configuration
// disabled it.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.AutoPollDisabled {
		log.Printf("Automatic polling is disabled")
		return nil
	}

	log.Printf("Automatic polling every %v", time.Duration(p.cfg.AutoPollInterval))

	p.wg.Add(1)

	go p.autoLoop(ctx)

	return nil
}

// Stop ends background work and waits for in-flight cycles, bounded by
// ctx.
func (p *Poller) Stop(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)
	})

	finished := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListDevices returns the current device set keyed by address.
func (p *Poller) ListDevices() (map[string]*printer.Device, error) {
	return p.store.Load()
}

// GetDevice returns one device or ErrDeviceNotFound.
func (p *Poller) GetDevice(address string) (*printer.Device, error) {
	devices, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	dev, ok := devices[address]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	return dev, nil
}

// AddDevice registers a new device. The address is the identity key;
// adding a duplicate is ErrDeviceExists.
func (p *Poller) AddDevice(dev *printer.Device) error {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return err
	}

	if _, ok := devices[dev.Address]; ok {
		return ErrDeviceExists
	}

	devices[dev.Address] = dev

	if err := p.store.Save(devices); err != nil {
		return err
	}

	p.publish(EventDeviceAdded, dev.Address, dev)

	return nil
}

// UpdateDevice applies mutate to one device under the store lock and
// persists the result.
func (p *Poller) UpdateDevice(address string, mutate func(*printer.Device)) (*printer.Device, error) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	dev, ok := devices[address]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	mutate(dev)

	if err := p.store.Save(devices); err != nil {
		return nil, err
	}

	p.publish(EventDeviceUpdated, address, dev)

	return dev, nil
}

// RemoveDevice deletes one device.
func (p *Poller) RemoveDevice(address string) error {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return err
	}

	if _, ok := devices[address]; !ok {
		return ErrDeviceNotFound
	}

	delete(devices, address)

	if err := p.store.Save(devices); err != nil {
		return err
	}

	p.publish(EventDeviceRemoved, address, nil)

	return nil
}

// MergeDevices folds imported records into the device set. Imported
// addresses overwrite their existing records; devices absent from the
// import are left alone.
func (p *Poller) MergeDevices(imported map[string]*printer.Device) error {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return err
	}

	for address, dev := range imported {
		devices[address] = dev
	}

	if err := p.store.Save(devices); err != nil {
		return err
	}

	p.publish(EventDevicesLoaded, "", nil)

	return nil
}

// PollDevice polls a single device now and returns its updated record.
func (p *Poller) PollDevice(ctx context.Context, address string) (*printer.Device, error) {
	dev, err := p.GetDevice(address)
	if err != nil {
		return nil, err
	}

	snap := p.safeFetch(dev)

	updated, previous, err := p.applyResult(address, snap)
	if err != nil {
		return nil, err
	}

	p.afterPoll(ctx, updated, previous)

	return updated, nil
}

// TryStartBulk kicks off a poll of every device. It returns false when
// a cycle is already running; cycles never overlap.
func (p *Poller) TryStartBulk(ctx context.Context) bool {
	if !p.beginCycle() {
		return false
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		err := p.runCycle(ctx)
		p.endCycle(err)

		if err != nil {
			log.Printf("Bulk poll failed: %v", err)
		}
	}()

	return true
}

// PollStatus is the externally visible polling state.
type PollStatus struct {
	Polling   bool   `json:"polling_active"`
	LastPoll  string `json:"last_poll_time"`
	LastError string `json:"last_error,omitempty"`
}

// Status reports whether a cycle is running and when the last one
// finished.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PollStatus{
		Polling:   p.polling,
		LastPoll:  "Never",
		LastError: p.lastError,
	}

	if !p.lastPoll.IsZero() {
		status.LastPoll = p.lastPoll.Format(printer.TimestampLayout)
	}

	return status
}

// ImportDiscovered reconciles scan results into the device set. New
// addresses are added; for known addresses only the display name (when
// no human has overridden it) and location are refreshed.
func (p *Poller) ImportDiscovered(found []discovery.Candidate) (added, updated int, err error) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return 0, 0, err
	}

	for _, cand := range found {
		if cand.Address == "" {
			continue
		}

		existing, ok := devices[cand.Address]
		if !ok {
			name := cand.Name
			if name == "" {
				name = cand.Address
			}

			dev := printer.NewDevice(name, cand.Address, cand.Community)
			dev.Location = cand.Location

			devices[cand.Address] = dev
			added++

			continue
		}

		changed := false

		if !existing.NameOverridden && cand.Name != "" && cand.Name != existing.Name {
			existing.Name = cand.Name
			changed = true
		}

		if cand.Location != "" && cand.Location != existing.Location {
			existing.Location = cand.Location
			changed = true
		}

		if changed {
			updated++
		}
	}

	if added == 0 && updated == 0 {
		return 0, 0, nil
	}

	if err := p.store.Save(devices); err != nil {
		return 0, 0, err
	}

	p.publish(EventDevicesLoaded, "", nil)

	return added, updated, nil
}

func (p *Poller) autoLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.AutoPollInterval)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-timer.C:
		}

		wait := interval

		// A manual bulk poll in flight means this tick is skipped, not
		// queued.
		if p.beginCycle() {
			err := p.runCycle(ctx)
			p.endCycle(err)

			if err != nil {
				log.Printf("Automatic poll failed: %v", err)

				wait = time.Duration(p.cfg.ErrorBackoff)
			}
		}

		timer.Reset(wait)
	}
}

func (p *Poller) beginCycle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling {
		return false
	}

	p.polling = true

	return true
}

func (p *Poller) endCycle(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.polling = false
	p.lastPoll = p.now()
	p.lastError = ""

	if err != nil {
		p.lastError = err.Error()
	}
}

// runCycle polls every device once. Snapshots are fetched concurrently
// without the store lock; the results are folded into the store in one
// locked pass with a single save at the end.
func (p *Poller) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPollPanicked, r)
		}
	}()

	devices, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}

	if len(devices) == 0 {
		return nil
	}

	p.publish(EventBulkStarted, "", nil)

	log.Printf("Polling %d printers", len(devices))

	type outcome struct {
		address string
		snap    *printer.Snapshot
	}

	var (
		mu       sync.Mutex
		outcomes []outcome
		workers  sync.WaitGroup
	)

	sem := make(chan struct{}, p.cfg.Concurrency)

	for address, dev := range devices {
		select {
		case <-ctx.Done():
			workers.Wait()
			return ctx.Err()
		case <-p.done:
			workers.Wait()
			return nil
		case sem <- struct{}{}:
		}

		workers.Add(1)

		go func(address string, dev *printer.Device) {
			defer workers.Done()
			defer func() { <-sem }()

			// One device's failure must not abort the batch; a nil
			// snapshot marks the processing failure for the fold.
			snap := p.safeFetch(dev)

			mu.Lock()
			outcomes = append(outcomes, outcome{address: address, snap: snap})
			mu.Unlock()
		}(address, dev)
	}

	workers.Wait()

	type transition struct {
		dev      *printer.Device
		previous printer.Status
	}

	var transitions []transition

	p.storeMu.Lock()

	// Reload: devices may have been added, edited or removed while the
	// fetches ran. Outcomes for removed devices are dropped.
	devices, err = p.store.Load()
	if err != nil {
		p.storeMu.Unlock()
		return fmt.Errorf("failed to reload devices: %w", err)
	}

	now := p.now()

	for _, out := range outcomes {
		dev, ok := devices[out.address]
		if !ok {
			continue
		}

		previous := dev.Status

		if applyErr := p.safeApply(dev, out.snap, now); applyErr != nil {
			log.Printf("Failed to process poll result for %s: %v", out.address, applyErr)
			forceOffline(dev, now)
		}

		transitions = append(transitions, transition{dev: dev, previous: previous})
	}

	saveErr := p.store.Save(devices)

	p.storeMu.Unlock()

	if saveErr != nil {
		return fmt.Errorf("failed to save poll results: %w", saveErr)
	}

	for _, tr := range transitions {
		p.afterPoll(ctx, tr.dev, tr.previous)
	}

	if p.history != nil {
		if err := p.history.CleanOld(time.Duration(p.cfg.HistoryRetention)); err != nil {
			log.Printf("Failed to prune poll history: %v", err)
		}
	}

	p.publish(EventBulkCompleted, "", nil)

	return nil
}

// safeFetch queries one device, converting a panic in the fetch path
// into a nil snapshot so the caller can force the device Offline.
func (p *Poller) safeFetch(dev *printer.Device) (snap *printer.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Poll of %s failed: %v", dev.Address, r)
			snap = nil
		}
	}()

	return p.fetch(dev)
}

// fetch queries one device over SNMP. Connection failures are ordinary
// unreachability, not errors.
func (p *Poller) fetch(dev *printer.Device) *printer.Snapshot {
	client, err := p.newClient(&snmp.Target{
		Host:      dev.Address,
		Community: dev.Community,
		Timeout:   p.cfg.SNMP.Timeout,
		Retries:   p.cfg.SNMP.Retries,
	})
	if err != nil {
		return &printer.Snapshot{Unreachable: true}
	}

	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close connection to %s: %v", dev.Address, err)
		}
	}()

	return printer.FetchSnapshot(client)
}

// applyResult folds one snapshot into the stored record under the
// store lock. The device may have been deleted while the fetch ran.
func (p *Poller) applyResult(address string, snap *printer.Snapshot) (*printer.Device, printer.Status, error) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	devices, err := p.store.Load()
	if err != nil {
		return nil, "", err
	}

	dev, ok := devices[address]
	if !ok {
		return nil, "", ErrDeviceNotFound
	}

	previous := dev.Status
	now := p.now()

	if applyErr := p.safeApply(dev, snap, now); applyErr != nil {
		// A code-level failure is not a timeout: force Offline at once
		// and surface the error, rather than feeding the debounce
		// counter.
		forceOffline(dev, now)

		if saveErr := p.store.Save(devices); saveErr != nil {
			log.Printf("Failed to persist forced-offline state for %s: %v", address, saveErr)
		}

		return nil, "", applyErr
	}

	if err := p.store.Save(devices); err != nil {
		return nil, "", err
	}

	return dev, previous, nil
}

// safeApply folds a snapshot into a record, converting a panic in the
// processing path into an error.
func (p *Poller) safeApply(dev *printer.Device, snap *printer.Snapshot, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll processing failed: %v", r)
		}
	}()

	if snap == nil {
		return fmt.Errorf("poll produced no snapshot")
	}

	if snap.Unreachable {
		printer.ApplyUnreachable(dev, now)
		return nil
	}

	printer.ApplySnapshot(dev, snap, now)

	return nil
}

func forceOffline(dev *printer.Device, now time.Time) {
	dev.Status = printer.StatusOffline
	dev.Touch(now)
}

// afterPoll handles everything downstream of a persisted poll result:
// history, alerting on transitions, and the live event feed.
func (p *Poller) afterPoll(ctx context.Context, dev *printer.Device, previous printer.Status) {
	if p.history != nil {
		rec := &db.PollRecord{
			Address:    dev.Address,
			Timestamp:  p.now(),
			Status:     string(dev.Status),
			TotalPages: dev.TotalPages,
		}

		if err := p.history.RecordPoll(rec); err != nil {
			log.Printf("Failed to record poll history for %s: %v", dev.Address, err)
		}
	}

	if p.alerter != nil && dev.Status != previous {
		p.alerter.StatusChanged(ctx, dev, previous)
	}

	p.publish(EventDeviceUpdated, dev.Address, dev)
}

func (p *Poller) publish(eventType, address string, dev *printer.Device) {
	if p.events == nil {
		return
	}

	p.events.Publish(Event{
		Type:      eventType,
		Address:   address,
		Device:    dev,
		Timestamp: p.now(),
	})
}
