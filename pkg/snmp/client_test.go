package snmp

import (
	"errors"
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn scripts PDU responses. Each call to Get/GetNext consumes the
// next step; a nil packet with a non-nil err simulates a timeout.
type fakeConn struct {
	getSteps  []step
	nextSteps []step
	getCalls  int
	nextCalls int
	closed    bool
}

type step struct {
	packet *gosnmp.SnmpPacket
	err    error
}

func (f *fakeConn) Connect() error { return nil }
func (f *fakeConn) Close() error   { f.closed = true; return nil }

func (f *fakeConn) Get(_ []string) (*gosnmp.SnmpPacket, error) {
	if f.getCalls >= len(f.getSteps) {
		return nil, errors.New("unscripted Get")
	}
	s := f.getSteps[f.getCalls]
	f.getCalls++
	return s.packet, s.err
}

func (f *fakeConn) GetNext(_ []string) (*gosnmp.SnmpPacket, error) {
	if f.nextCalls >= len(f.nextSteps) {
		return nil, errors.New("unscripted GetNext")
	}
	s := f.nextSteps[f.nextCalls]
	f.nextCalls++
	return s.packet, s.err
}

func valuePacket(oid string, typ gosnmp.Asn1BER, value interface{}) *gosnmp.SnmpPacket {
	return &gosnmp.SnmpPacket{
		Variables: []gosnmp.SnmpPDU{{Name: oid, Type: typ, Value: value}},
	}
}

func TestClientGet(t *testing.T) {
	tests := []struct {
		name string
		step step
		want Result
	}{
		{
			name: "string value",
			step: step{packet: valuePacket(".1.3.6.1.2.1.1.1.0", gosnmp.OctetString, []byte("Brother HL-L6200DW"))},
			want: Result{Kind: KindValue, Value: "Brother HL-L6200DW"},
		},
		{
			name: "integer value",
			step: step{packet: valuePacket(".1.3.6.1.2.1.43.10.2.1.4.1.1", gosnmp.Counter32, uint(52133))},
			want: Result{Kind: KindValue, Value: "52133"},
		},
		{
			name: "timeout means unreachable",
			step: step{err: errors.New("request timeout (after 1 retries)")},
			want: Result{Kind: KindUnreachable},
		},
		{
			name: "noSuchName means absent",
			step: step{packet: &gosnmp.SnmpPacket{Error: gosnmp.NoSuchName}},
			want: Result{Kind: KindAbsent},
		},
		{
			name: "NoSuchInstance means absent",
			step: step{packet: valuePacket(".1.3.6.1.2.1.43.5.1.1.17.1", gosnmp.NoSuchInstance, nil)},
			want: Result{Kind: KindAbsent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{conn: &fakeConn{getSteps: []step{tt.step}}, host: "192.0.2.10"}
			got := c.Get("1.3.6.1.2.1.1.1.0")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientWalkStopsAtPrefixBoundary(t *testing.T) {
	const prefix = "1.3.6.1.2.1.43.11.1.1.6.1"

	conn := &fakeConn{nextSteps: []step{
		{packet: valuePacket(".1.3.6.1.2.1.43.11.1.1.6.1.1", gosnmp.OctetString, []byte("Black Toner"))},
		{packet: valuePacket(".1.3.6.1.2.1.43.11.1.1.6.1.2", gosnmp.OctetString, []byte("Drum Unit"))},
		// Next lexicographic OID is outside the subtree; the walk must
		// return without consuming anything after it.
		{packet: valuePacket(".1.3.6.1.2.1.43.11.1.1.8.1.1", gosnmp.Integer, 100)},
	}}

	c := &client{conn: conn, host: "192.0.2.10"}

	entries, err := c.Walk(prefix)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{OID: "1.3.6.1.2.1.43.11.1.1.6.1.1", Value: "Black Toner"}, entries[0])
	assert.Equal(t, Entry{OID: "1.3.6.1.2.1.43.11.1.1.6.1.2", Value: "Drum Unit"}, entries[1])
	assert.Equal(t, 3, conn.nextCalls, "walk should stop on the first out-of-prefix OID")
}

func TestClientWalkUnreachable(t *testing.T) {
	conn := &fakeConn{nextSteps: []step{{err: errors.New("request timeout")}}}
	c := &client{conn: conn, host: "192.0.2.10"}

	entries, err := c.Walk("1.3.6.1.2.1.43.18.1.1.8")
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Nil(t, entries)
}

func TestClientWalkKeepsPartialResults(t *testing.T) {
	conn := &fakeConn{nextSteps: []step{
		{packet: valuePacket(".1.3.6.1.2.1.43.18.1.1.8.1.1", gosnmp.OctetString, []byte("Cover Open"))},
		{err: errors.New("request timeout")},
	}}
	c := &client{conn: conn, host: "192.0.2.10"}

	entries, err := c.Walk("1.3.6.1.2.1.43.18.1.1.8")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Cover Open", entries[0].Value)
}

func TestClientWalkEndOfMibView(t *testing.T) {
	conn := &fakeConn{nextSteps: []step{
		{packet: valuePacket(".1.3.6.1.2.1.43.18.1.1.8.1.1", gosnmp.OctetString, []byte("Paper Jam"))},
		{packet: valuePacket(".1.3.6.1.2.1.43.18.1.1.8.1.1", gosnmp.EndOfMibView, nil)},
	}}
	c := &client{conn: conn, host: "192.0.2.10"}

	entries, err := c.Walk("1.3.6.1.2.1.43.18.1.1.8")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestValidateTargetDefaults(t *testing.T) {
	target := &Target{Host: "192.0.2.10"}
	require.NoError(t, validateTarget(target))
	assert.Equal(t, uint16(defaultPort), target.Port)
	assert.Equal(t, defaultRetries, target.Retries)

	assert.ErrorIs(t, validateTarget(nil), ErrNilTarget)
	assert.ErrorIs(t, validateTarget(&Target{}), ErrTargetHostRequired)
}
