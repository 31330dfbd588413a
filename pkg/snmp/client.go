// Package snmp pkg/snmp/client.go
package snmp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/tonertrack/tonertrack/pkg/config"
)

const (
	defaultPort    = 161
	defaultTimeout = 2 * time.Second
	defaultRetries = 1
)

// ClientFactory creates a connected Client for a target. The poller
// and discovery scanner take one so tests can substitute fakes.
type ClientFactory func(target *Target) (Client, error)

// client implements Client on top of a gosnmp connection.
type client struct {
	conn pduConn
	host string
}

// gosnmpConn adapts *gosnmp.GoSNMP to pduConn; Close on gosnmp lives on
// the inner net.Conn.
type gosnmpConn struct {
	*gosnmp.GoSNMP
}

func (c *gosnmpConn) Close() error {
	if c.Conn == nil {
		return nil
	}

	return c.Conn.Close()
}

// newConn builds the transport for a target. Replaced in tests.
var newConn = func(target *Target) (pduConn, error) {
	return &gosnmpConn{&gosnmp.GoSNMP{
		Target:             target.Host,
		Port:               target.Port,
		Community:          target.Community,
		Version:            gosnmp.Version1,
		Timeout:            time.Duration(target.Timeout),
		Retries:            target.Retries,
		ExponentialTimeout: true,
		MaxOids:            gosnmp.MaxOids,
	}}, nil
}

// NewClient validates the target, fills defaults and opens the socket.
func NewClient(target *Target) (Client, error) {
	if err := validateTarget(target); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	conn, err := newConn(target)
	if err != nil {
		return nil, err
	}

	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Host, err)
	}

	return &client{conn: conn, host: target.Host}, nil
}

// Get implements Client.
func (c *client) Get(oid string) Result {
	packet, err := c.conn.Get([]string{oid})
	if err != nil {
		// Timeouts and transport failures mean the device never
		// answered; that is a normal outcome for a powered-off printer.
		return Result{Kind: KindUnreachable}
	}

	// SNMPv1 devices report a missing OID through the error-status
	// field rather than an exception PDU type.
	if packet.Error == gosnmp.NoSuchName {
		return Result{Kind: KindAbsent}
	}

	if packet.Error != gosnmp.NoError || len(packet.Variables) == 0 {
		return Result{Kind: KindAbsent}
	}

	pdu := packet.Variables[0]
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return Result{Kind: KindAbsent}
	default:
		return Result{Kind: KindValue, Value: pduString(pdu)}
	}
}

// Walk implements Client. It issues GetNext requests one OID at a time,
// exactly like an snmpwalk, so it can stop the moment the table ends.
func (c *client) Walk(prefix string) ([]Entry, error) {
	prefix = strings.TrimPrefix(prefix, ".")

	var entries []Entry

	cur := prefix

	for {
		packet, err := c.conn.GetNext([]string{cur})
		if err != nil {
			if len(entries) == 0 {
				return nil, ErrUnreachable
			}
			// The device answered for part of the table and then went
			// quiet; partial data is still data.
			return entries, nil
		}

		if packet.Error != gosnmp.NoError || len(packet.Variables) == 0 {
			return entries, nil
		}

		pdu := packet.Variables[0]
		if pdu.Type == gosnmp.EndOfMibView {
			return entries, nil
		}

		name := strings.TrimPrefix(pdu.Name, ".")
		if !inPrefix(name, prefix) {
			// First OID past the subtree: the table is done. Do not
			// keep walking into unrelated parts of the MIB.
			return entries, nil
		}

		if name == cur {
			return entries, ErrWalkStalled
		}

		entries = append(entries, Entry{OID: name, Value: pduString(pdu)})
		cur = name
	}
}

// Close implements Client.
func (c *client) Close() error {
	return c.conn.Close()
}

// inPrefix reports whether oid sits inside the subtree rooted at prefix.
func inPrefix(oid, prefix string) bool {
	return oid == prefix || strings.HasPrefix(oid, prefix+".")
}

// pduString renders an SNMP value the way the rest of the system
// consumes it: as a plain string. Numeric interpretation happens in the
// status interpreter, which knows which fields are numbers.
func pduString(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}

		return fmt.Sprintf("%v", pdu.Value)
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		if s, ok := pdu.Value.(string); ok {
			return s
		}

		return fmt.Sprintf("%v", pdu.Value)
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.Uinteger32, gosnmp.TimeTicks:
		return gosnmp.ToBigInt(pdu.Value).String()
	default:
		return fmt.Sprintf("%v", pdu.Value)
	}
}

// validateTarget fills defaults and rejects unusable targets.
func validateTarget(target *Target) error {
	if target == nil {
		return ErrNilTarget
	}

	if target.Host == "" {
		return ErrTargetHostRequired
	}

	if target.Port == 0 {
		target.Port = defaultPort
	}

	if target.Timeout == 0 {
		target.Timeout = config.Duration(defaultTimeout)
	}

	if target.Retries == 0 {
		target.Retries = defaultRetries
	}

	return nil
}
