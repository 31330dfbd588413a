package poller

import "errors"

var (
	ErrDeviceNotFound = errors.New("printer not found")
	ErrDeviceExists   = errors.New("printer with this address already exists")
	errPollPanicked   = errors.New("poll cycle panicked")
)
