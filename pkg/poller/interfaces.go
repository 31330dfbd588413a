// Package poller pkg/poller/interfaces.go
package poller

import (
	"context"
	"time"

	"github.com/tonertrack/tonertrack/pkg/db"
	"github.com/tonertrack/tonertrack/pkg/printer"
)

// Alerter is notified after a poll lands a device in a new status.
// Implementations must be safe for concurrent use; the poller calls
// them from worker goroutines.
type Alerter interface {
	StatusChanged(ctx context.Context, dev *printer.Device, previous printer.Status)
}

// Event is a state-change notification pushed to live API clients.
type Event struct {
	Type      string          `json:"type"`
	Address   string          `json:"address,omitempty"`
	Device    *printer.Device `json:"device,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPublisher fans events out to whoever is listening. Publish must
// never block the poller.
type EventPublisher interface {
	Publish(event Event)
}

// History records poll outcomes for trend queries. The sqlite store in
// pkg/db implements it; a nil History disables recording.
type History interface {
	RecordPoll(rec *db.PollRecord) error
	CleanOld(retention time.Duration) error
}
