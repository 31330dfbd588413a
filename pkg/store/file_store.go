// Package store pkg/store/file_store.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonertrack/tonertrack/pkg/printer"
)

var (
	errFailedToMarshal = errors.New("failed to marshal device set")
	errFailedToWrite   = errors.New("failed to write device set")
	errFailedToLoad    = errors.New("failed to load device set")
)

// FileStore keeps the device set in one JSON document, rewritten via
// write-to-temp-then-rename so a crash mid-save never leaves a corrupt
// or partial file. Every save appends a one-line change summary to an
// audit log next to the data file.
type FileStore struct {
	path      string
	auditPath string

	mu sync.Mutex
	// names from the last observed state, for audit diffs
	prev map[string]string
}

// NewFileStore creates a store backed by path. The audit log lives next
// to it as audit.log.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:      path,
		auditPath: filepath.Join(filepath.Dir(path), "audit.log"),
	}
}

// Load implements Store.
func (s *FileStore) Load() (map[string]*printer.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.read()
	if err != nil {
		return nil, err
	}

	s.rememberNames(devices)

	return devices, nil
}

// Save implements Store.
func (s *FileStore) Save(devices map[string]*printer.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prev == nil {
		// First save of this process: diff against what is on disk so
		// the audit log stays meaningful across restarts.
		if existing, err := s.read(); err == nil {
			s.rememberNames(existing)
		}
	}

	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToMarshal, err)
	}

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	s.appendAudit(devices)
	s.rememberNames(devices)

	return nil
}

func (s *FileStore) read() (map[string]*printer.Device, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*printer.Device{}, nil
		}

		return nil, fmt.Errorf("%w: %w", errFailedToLoad, err)
	}

	devices := map[string]*printer.Device{}
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoad, err)
	}

	return devices, nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", errFailedToWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".printers-*.json")
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToWrite, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("%w: %w", errFailedToWrite, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", errFailedToWrite, err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", errFailedToWrite, err)
	}

	return nil
}

// appendAudit writes one line summarizing adds, removals and renames
// since the last save. Best effort; an unwritable audit log must not
// fail the save.
func (s *FileStore) appendAudit(devices map[string]*printer.Device) {
	var added, removed, renamed []string

	for addr, dev := range devices {
		prevName, ok := s.prev[addr]
		if !ok {
			added = append(added, fmt.Sprintf("%s (%s)", addr, dev.Name))
			continue
		}

		if prevName != dev.Name {
			renamed = append(renamed, fmt.Sprintf("%s (%q -> %q)", addr, prevName, dev.Name))
		}
	}

	for addr, name := range s.prev {
		if _, ok := devices[addr]; !ok {
			removed = append(removed, fmt.Sprintf("%s (%s)", addr, name))
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(renamed) == 0 {
		return
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(renamed)

	var parts []string
	if len(added) > 0 {
		parts = append(parts, "added: "+strings.Join(added, ", "))
	}

	if len(removed) > 0 {
		parts = append(parts, "removed: "+strings.Join(removed, ", "))
	}

	if len(renamed) > 0 {
		parts = append(parts, "renamed: "+strings.Join(renamed, ", "))
	}

	line := fmt.Sprintf("%s %s\n",
		time.Now().Format(printer.TimestampLayout), strings.Join(parts, "; "))

	f, err := os.OpenFile(s.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.WriteString(line)
}

func (s *FileStore) rememberNames(devices map[string]*printer.Device) {
	names := make(map[string]string, len(devices))
	for addr, dev := range devices {
		names[addr] = dev.Name
	}

	s.prev = names
}
