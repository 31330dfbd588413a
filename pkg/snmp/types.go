package snmp

import (
	"github.com/tonertrack/tonertrack/pkg/config"
)

// ResultKind tags the outcome of a single-OID fetch.
type ResultKind int

const (
	// KindValue means the device answered with a value.
	KindValue ResultKind = iota
	// KindAbsent means the device answered but does not have the OID.
	// This is an ordinary condition when probing optional table indices.
	KindAbsent
	// KindUnreachable means the device did not answer at all within the
	// timeout and retry budget.
	KindUnreachable
)

// Result is the tagged outcome of Get. Absence and unreachability are
// normal results, not errors.
type Result struct {
	Kind  ResultKind
	Value string
}

// Ok reports whether the result carries a value.
func (r Result) Ok() bool {
	return r.Kind == KindValue
}

// Entry is one OID/value pair returned by Walk, in table order.
type Entry struct {
	OID   string
	Value string
}

// Target identifies one SNMP device and how to talk to it.
type Target struct {
	Host      string          `json:"host"`
	Port      uint16          `json:"port"`
	Community string          `json:"community"`
	Timeout   config.Duration `json:"timeout"`
	Retries   int             `json:"retries"`
}
