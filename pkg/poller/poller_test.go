package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonertrack/tonertrack/pkg/db"
	"github.com/tonertrack/tonertrack/pkg/discovery"
	"github.com/tonertrack/tonertrack/pkg/printer"
	"github.com/tonertrack/tonertrack/pkg/snmp"
	"github.com/tonertrack/tonertrack/pkg/store"
)

const (
	oidSysDescr  = "1.3.6.1.2.1.1.1.0"
	oidModel     = "1.3.6.1.2.1.25.3.2.1.3.1"
	oidSerial    = "1.3.6.1.2.1.43.5.1.1.17.1"
	oidPageCount = "1.3.6.1.2.1.43.10.2.1.4.1.1"
)

// stubClient is a healthy device answering the identity OIDs.
type stubClient struct {
	values map[string]string

	// block, when set, stalls the first Get until released.
	block chan struct{}
	once  sync.Once
}

func (c *stubClient) Get(oid string) snmp.Result {
	if c.block != nil {
		c.once.Do(func() { <-c.block })
	}

	if v, ok := c.values[oid]; ok {
		return snmp.Result{Kind: snmp.KindValue, Value: v}
	}

	return snmp.Result{Kind: snmp.KindAbsent}
}

func (c *stubClient) Walk(string) ([]snmp.Entry, error) { return nil, nil }
func (c *stubClient) Close() error                      { return nil }

func healthyClient() *stubClient {
	return &stubClient{values: map[string]string{
		oidSysDescr:  "Test Printer",
		oidModel:     "LaserJet 400",
		oidSerial:    "SN123",
		oidPageCount: "500",
	}}
}

type fakeHistory struct {
	mu      sync.Mutex
	records []db.PollRecord
	cleaned []time.Duration
}

func (h *fakeHistory) RecordPoll(rec *db.PollRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, *rec)

	return nil
}

func (h *fakeHistory) CleanOld(retention time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cleaned = append(h.cleaned, retention)

	return nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []printer.Status
}

func (a *fakeAlerter) StatusChanged(_ context.Context, _ *printer.Device, previous printer.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, previous)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (e *fakeEvents) Publish(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, event)
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}

	return out
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	return cfg
}

func seededStore(t *testing.T, devices ...*printer.Device) store.Store {
	t.Helper()

	st := store.NewInMemoryStore()

	set := map[string]*printer.Device{}
	for _, dev := range devices {
		set[dev.Address] = dev
	}

	require.NoError(t, st.Save(set))

	return st
}

func TestPollDeviceSuccess(t *testing.T) {
	st := seededStore(t, printer.NewDevice("Office", "192.168.1.50", "public"))
	history := &fakeHistory{}
	alerter := &fakeAlerter{}
	events := &fakeEvents{}

	p := New(testConfig(t), st,
		WithHistory(history),
		WithAlerter(alerter),
		WithEvents(events),
		WithClientFactory(func(target *snmp.Target) (snmp.Client, error) {
			assert.Equal(t, "192.168.1.50", target.Host)
			return healthyClient(), nil
		}),
	)

	dev, err := p.PollDevice(context.Background(), "192.168.1.50")
	require.NoError(t, err)

	assert.Equal(t, printer.StatusOK, dev.Status)
	assert.Equal(t, "LaserJet 400", dev.Model)
	assert.Equal(t, "500", dev.TotalPages)

	// The result must be persisted, not just returned.
	stored, err := p.GetDevice("192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, printer.StatusOK, stored.Status)

	require.Len(t, history.records, 1)
	assert.Equal(t, "192.168.1.50", history.records[0].Address)
	assert.Equal(t, "OK", history.records[0].Status)

	// Unknown -> OK is a transition.
	require.Len(t, alerter.calls, 1)
	assert.Equal(t, printer.StatusUnknown, alerter.calls[0])

	assert.Contains(t, events.types(), EventDeviceUpdated)
}

func TestPollDeviceNotFound(t *testing.T) {
	p := New(testConfig(t), store.NewInMemoryStore())

	_, err := p.PollDevice(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestPollDeviceOfflineDebounce(t *testing.T) {
	dev := printer.NewDevice("Office", "192.168.1.50", "public")
	dev.Status = printer.StatusOK

	st := seededStore(t, dev)
	alerter := &fakeAlerter{}

	p := New(testConfig(t), st,
		WithAlerter(alerter),
		WithClientFactory(func(*snmp.Target) (snmp.Client, error) {
			return &stubClient{values: map[string]string{}}, nil
		}),
	)

	// The stub has no sysDescr, so every poll is unreachable.
	for i := 0; i < printer.OfflineThreshold-1; i++ {
		got, err := p.PollDevice(context.Background(), "192.168.1.50")
		require.NoError(t, err)
		assert.Equal(t, printer.StatusOK, got.Status, "poll %d should keep prior status", i+1)
	}

	got, err := p.PollDevice(context.Background(), "192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, printer.StatusOffline, got.Status)

	// Only the OK -> Offline transition alerts.
	require.Len(t, alerter.calls, 1)
	assert.Equal(t, printer.StatusOK, alerter.calls[0])
}

func TestPollDeviceFactoryErrorIsUnreachable(t *testing.T) {
	dev := printer.NewDevice("Office", "192.168.1.50", "public")
	st := seededStore(t, dev)

	p := New(testConfig(t), st,
		WithClientFactory(func(*snmp.Target) (snmp.Client, error) {
			return nil, snmp.ErrUnreachable
		}),
	)

	got, err := p.PollDevice(context.Background(), "192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, 1, got.OfflineAttempts)
}

type panickyClient struct{}

func (panickyClient) Get(string) snmp.Result           { panic("malformed pdu") }
func (panickyClient) Walk(string) ([]snmp.Entry, error) { panic("malformed pdu") }
func (panickyClient) Close() error                      { return nil }

func TestPollDeviceProcessingFailureForcesOffline(t *testing.T) {
	dev := printer.NewDevice("Office", "192.168.1.50", "public")
	dev.Status = printer.StatusOK

	st := seededStore(t, dev)

	p := New(testConfig(t), st,
		WithClientFactory(func(*snmp.Target) (snmp.Client, error) {
			return panickyClient{}, nil
		}),
	)

	_, err := p.PollDevice(context.Background(), "192.168.1.50")
	require.Error(t, err)

	// No debounce for code-level failures: straight to Offline.
	stored, err := p.GetDevice("192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, printer.StatusOffline, stored.Status)
}

func TestBulkIsolatesFailingDevice(t *testing.T) {
	st := seededStore(t,
		printer.NewDevice("Good", "10.0.0.1", "public"),
		printer.NewDevice("Bad", "10.0.0.2", "public"),
	)

	p := New(testConfig(t), st,
		WithClientFactory(func(target *snmp.Target) (snmp.Client, error) {
			if target.Host == "10.0.0.2" {
				return panickyClient{}, nil
			}

			return healthyClient(), nil
		}),
	)

	require.True(t, p.TryStartBulk(context.Background()))

	require.Eventually(t, func() bool {
		return !p.Status().Polling
	}, 5*time.Second, 10*time.Millisecond)

	devices, err := p.ListDevices()
	require.NoError(t, err)

	assert.Equal(t, printer.StatusOK, devices["10.0.0.1"].Status)
	assert.Equal(t, printer.StatusOffline, devices["10.0.0.2"].Status)
}

func TestBulkPollsEveryDevice(t *testing.T) {
	st := seededStore(t,
		printer.NewDevice("A", "10.0.0.1", "public"),
		printer.NewDevice("B", "10.0.0.2", "public"),
		printer.NewDevice("C", "10.0.0.3", "public"),
	)

	history := &fakeHistory{}

	var (
		mu     sync.Mutex
		polled []string
	)

	p := New(testConfig(t), st,
		WithHistory(history),
		WithClientFactory(func(target *snmp.Target) (snmp.Client, error) {
			mu.Lock()
			polled = append(polled, target.Host)
			mu.Unlock()

			return healthyClient(), nil
		}),
	)

	require.True(t, p.TryStartBulk(context.Background()))

	require.Eventually(t, func() bool {
		return !p.Status().Polling
	}, 5*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, polled)

	devices, err := p.ListDevices()
	require.NoError(t, err)

	for _, dev := range devices {
		assert.Equal(t, printer.StatusOK, dev.Status)
	}

	assert.Len(t, history.records, 3)
	assert.Len(t, history.cleaned, 1)
}

func TestBulkSingleFlight(t *testing.T) {
	st := seededStore(t, printer.NewDevice("A", "10.0.0.1", "public"))

	release := make(chan struct{})

	p := New(testConfig(t), st,
		WithClientFactory(func(*snmp.Target) (snmp.Client, error) {
			c := healthyClient()
			c.block = release

			return c, nil
		}),
	)

	require.True(t, p.TryStartBulk(context.Background()))

	require.Eventually(t, func() bool {
		return p.Status().Polling
	}, time.Second, time.Millisecond)

	// Second request while the first is in flight is refused.
	assert.False(t, p.TryStartBulk(context.Background()))

	close(release)

	require.Eventually(t, func() bool {
		return !p.Status().Polling
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEqual(t, "Never", p.Status().LastPoll)

	// And a new cycle is allowed again.
	assert.True(t, p.TryStartBulk(context.Background()))

	require.NoError(t, p.Stop(context.Background()))
}

func TestBulkDropsRemovedDevice(t *testing.T) {
	st := seededStore(t,
		printer.NewDevice("A", "10.0.0.1", "public"),
		printer.NewDevice("B", "10.0.0.2", "public"),
	)

	release := make(chan struct{})

	p := New(testConfig(t), st,
		WithClientFactory(func(*snmp.Target) (snmp.Client, error) {
			c := healthyClient()
			c.block = release

			return c, nil
		}),
	)

	require.True(t, p.TryStartBulk(context.Background()))

	require.Eventually(t, func() bool {
		return p.Status().Polling
	}, time.Second, time.Millisecond)

	require.NoError(t, p.RemoveDevice("10.0.0.2"))

	close(release)

	require.Eventually(t, func() bool {
		return !p.Status().Polling
	}, 5*time.Second, 10*time.Millisecond)

	devices, err := p.ListDevices()
	require.NoError(t, err)

	// The removed device must not be resurrected by the poll results.
	assert.Len(t, devices, 1)
	assert.Contains(t, devices, "10.0.0.1")
}

func TestAddDevice(t *testing.T) {
	p := New(testConfig(t), store.NewInMemoryStore())

	dev := printer.NewDevice("Office", "192.168.1.50", "public")
	require.NoError(t, p.AddDevice(dev))

	err := p.AddDevice(printer.NewDevice("Dup", "192.168.1.50", "public"))
	assert.ErrorIs(t, err, ErrDeviceExists)
}

func TestUpdateDevice(t *testing.T) {
	st := seededStore(t, printer.NewDevice("Office", "192.168.1.50", "public"))
	p := New(testConfig(t), st)

	dev, err := p.UpdateDevice("192.168.1.50", func(d *printer.Device) {
		d.Name = "Renamed"
		d.NameOverridden = true
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", dev.Name)

	stored, err := p.GetDevice("192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.True(t, stored.NameOverridden)

	_, err = p.UpdateDevice("10.9.9.9", func(*printer.Device) {})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRemoveDevice(t *testing.T) {
	st := seededStore(t, printer.NewDevice("Office", "192.168.1.50", "public"))
	p := New(testConfig(t), st)

	require.NoError(t, p.RemoveDevice("192.168.1.50"))

	assert.ErrorIs(t, p.RemoveDevice("192.168.1.50"), ErrDeviceNotFound)
}

func TestMergeDevices(t *testing.T) {
	existing := printer.NewDevice("Keep Me", "10.0.0.1", "public")
	stale := printer.NewDevice("Old Record", "10.0.0.2", "public")

	st := seededStore(t, existing, stale)
	p := New(testConfig(t), st)

	replacement := printer.NewDevice("New Record", "10.0.0.2", "internal")
	fresh := printer.NewDevice("Brand New", "10.0.0.3", "public")

	require.NoError(t, p.MergeDevices(map[string]*printer.Device{
		"10.0.0.2": replacement,
		"10.0.0.3": fresh,
	}))

	devices, err := p.ListDevices()
	require.NoError(t, err)

	// Devices absent from the import survive it.
	require.Len(t, devices, 3)
	assert.Equal(t, "Keep Me", devices["10.0.0.1"].Name)

	// Imported addresses overwrite their records.
	assert.Equal(t, "New Record", devices["10.0.0.2"].Name)
	assert.Equal(t, "internal", devices["10.0.0.2"].Community)
	assert.Equal(t, "Brand New", devices["10.0.0.3"].Name)
}

func TestImportDiscovered(t *testing.T) {
	renamed := printer.NewDevice("Custom Name", "10.0.0.2", "public")
	renamed.NameOverridden = true

	st := seededStore(t,
		printer.NewDevice("Old Name", "10.0.0.1", "public"),
		renamed,
	)

	p := New(testConfig(t), st)

	added, updated, err := p.ImportDiscovered([]discovery.Candidate{
		{Name: "New Printer", Address: "10.0.0.3", Community: "internal", Location: "Floor 2"},
		{Name: "Scanned Name", Address: "10.0.0.1", Location: "Floor 1"},
		{Name: "Scanned Name", Address: "10.0.0.2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, updated)

	devices, err := p.ListDevices()
	require.NoError(t, err)

	assert.Equal(t, "internal", devices["10.0.0.3"].Community)
	assert.Equal(t, "Floor 2", devices["10.0.0.3"].Location)

	assert.Equal(t, "Scanned Name", devices["10.0.0.1"].Name)
	assert.Equal(t, "Floor 1", devices["10.0.0.1"].Location)

	// A human-set name survives rediscovery.
	assert.Equal(t, "Custom Name", devices["10.0.0.2"].Name)
}

func TestStatusBeforeAnyPoll(t *testing.T) {
	p := New(testConfig(t), store.NewInMemoryStore())

	status := p.Status()
	assert.False(t, status.Polling)
	assert.Equal(t, "Never", status.LastPoll)
	assert.Empty(t, status.LastError)
}

func TestAutoPollDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPollDisabled = true

	p := New(cfg, store.NewInMemoryStore())

	require.NoError(t, p.Start(context.Background()))

	// Nothing to wait for: Stop returns immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Stop(ctx))
}
