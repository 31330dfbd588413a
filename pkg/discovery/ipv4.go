// Package discovery pkg/discovery/ipv4.go
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const maxScanAddresses = 65536

var (
	errInvalidTarget   = fmt.Errorf("invalid scan target")
	errScanRangeTooBig = fmt.Errorf("scan range exceeds %d addresses", maxScanAddresses)
)

// expandTargets turns the target entries into the flat address list a
// scan walks. Accepted forms per entry: a CIDR block, a single IPv4
// address, or a last-octet range like "10.0.0.10-50".
func expandTargets(targets []string) ([]string, error) {
	var out []string

	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}

		addrs, err := expandTarget(t)
		if err != nil {
			return nil, err
		}

		out = append(out, addrs...)

		if len(out) > maxScanAddresses {
			return nil, errScanRangeTooBig
		}
	}

	return out, nil
}

func expandTarget(target string) ([]string, error) {
	if strings.Contains(target, "/") {
		return expandCIDR(target)
	}

	if strings.Contains(target, "-") {
		return expandRange(target)
	}

	ip := net.ParseIP(target)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	return []string{ip.String()}, nil
}

// expandCIDR lists the usable host addresses in an IPv4 block. Network
// and broadcast addresses are skipped; /31 and /32 have no such
// addresses so every address in them is kept.
func expandCIDR(block string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, block)
	}

	if ipnet.IP.To4() == nil {
		return nil, fmt.Errorf("%w: %q is not IPv4", errInvalidTarget, block)
	}

	ones, bits := ipnet.Mask.Size()
	size := 1 << uint(bits-ones)

	if size > maxScanAddresses {
		return nil, errScanRangeTooBig
	}

	var out []string

	cur := make(net.IP, len(ipnet.IP))
	copy(cur, ipnet.IP.Mask(ipnet.Mask))

	for ipnet.Contains(cur) {
		if ones >= 31 || !isNetworkOrBroadcast(cur, ipnet) {
			out = append(out, cur.String())
		}

		incIP(cur)
	}

	return out, nil
}

// expandRange lists "A.B.C.start-end" inclusively.
func expandRange(target string) ([]string, error) {
	lastDot := strings.LastIndex(target, ".")
	if lastDot < 0 {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	prefix := target[:lastDot]
	bounds := strings.SplitN(target[lastDot+1:], "-", 2)

	if len(bounds) != 2 {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	start, err := strconv.Atoi(bounds[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	end, err := strconv.Atoi(bounds[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	if start < 0 || end > 255 || start > end {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	if net.ParseIP(fmt.Sprintf("%s.%d", prefix, start)) == nil {
		return nil, fmt.Errorf("%w: %q", errInvalidTarget, target)
	}

	out := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, fmt.Sprintf("%s.%d", prefix, i))
	}

	return out, nil
}

func isNetworkOrBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	v4 := ip.To4()
	network := ipnet.IP.Mask(ipnet.Mask).To4()

	if v4.Equal(network) {
		return true
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = network[i] | ^ipnet.Mask[i]
	}

	return v4.Equal(broadcast)
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}
