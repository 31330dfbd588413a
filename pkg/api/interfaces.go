// Package api pkg/api/interfaces.go
package api

import (
	"context"

	"github.com/tonertrack/tonertrack/pkg/db"
	"github.com/tonertrack/tonertrack/pkg/discovery"
)

// Scanner finds printers on the network.
type Scanner interface {
	Scan(ctx context.Context, cfg *discovery.Config) ([]discovery.Candidate, error)
}

// HistoryReader serves poll history queries.
type HistoryReader interface {
	GetHistory(address string, limit int) ([]db.PollRecord, error)
}
