// Package discovery pkg/discovery/ping.go
package discovery

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// pinger sends one ICMP echo request per address to weed out dead
// hosts before the slower SNMP probe. It uses an unprivileged datagram
// socket; hosts that forbid those simply scan without the pre-probe.
type pinger interface {
	Ping(ctx context.Context, address string) bool
}

type icmpPinger struct {
	timeout time.Duration
}

func newICMPPinger(timeout time.Duration) *icmpPinger {
	return &icmpPinger{timeout: timeout}
}

// Ping reports whether address answered an echo request within the
// timeout. Any setup failure counts as unreachable.
func (p *icmpPinger) Ping(ctx context.Context, address string) bool {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("tonertrack"),
		},
	}

	data, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	dst := &net.UDPAddr{IP: net.ParseIP(address)}
	if dst.IP == nil {
		return false
	}

	if _, err := conn.WriteTo(data, dst); err != nil {
		return false
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return false
	}

	reply := make([]byte, 1500)

	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return false
		}

		// Replies from other hosts on the same socket are ignored.
		if udp, ok := peer.(*net.UDPAddr); ok && !udp.IP.Equal(dst.IP) {
			continue
		}

		parsed, err := icmp.ParseMessage(1, reply[:n])
		if err != nil {
			continue
		}

		if parsed.Type == ipv4.ICMPTypeEchoReply {
			return true
		}
	}
}
