// Package snmp pkg/snmp/interfaces.go
package snmp

import "github.com/gosnmp/gosnmp"

//go:generate mockgen -destination=mock_snmp.go -package=snmp github.com/tonertrack/tonertrack/pkg/snmp Client

// Client is a connection to one SNMP device.
type Client interface {
	// Get fetches a single OID. Absence and unreachability are encoded
	// in the Result, never raised as errors.
	Get(oid string) Result
	// Walk fetches every OID under prefix, in lexicographic table
	// order, stopping as soon as the device returns an OID outside the
	// prefix. It returns ErrUnreachable when the device never answers.
	Walk(prefix string) ([]Entry, error)
	// Close releases the underlying socket.
	Close() error
}

// pduConn is the slice of gosnmp.GoSNMP the client needs. Tests swap in
// a scripted fake to simulate device responses.
type pduConn interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	GetNext(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}
