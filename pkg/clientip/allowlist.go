package clientip

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidPrefix is returned by ParseAllowlist for entries that are neither
// an address nor a CIDR prefix.
var ErrInvalidPrefix = errors.New("clientip: invalid address or prefix")

// Allowlist is a set of address prefixes. The zero value allows every address.
type Allowlist struct {
	prefixes []netip.Prefix
}

// ParseAllowlist parses addresses ("203.0.113.7") and CIDR prefixes
// ("203.0.113.0/24"). Blank entries are skipped.
func ParseAllowlist(entries []string) (Allowlist, error) {
	var list Allowlist
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return Allowlist{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, e)
			}
			addr = addr.Unmap()
			list.prefixes = append(list.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(e)
		if err != nil {
			return Allowlist{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, e)
		}
		list.prefixes = append(list.prefixes, p.Masked())
	}
	return list, nil
}

// Empty reports whether the list has no entries and therefore allows everything.
func (l Allowlist) Empty() bool { return len(l.prefixes) == 0 }

// Allows reports whether ip falls into one of the prefixes.
// Unparsable addresses are allowed only by an empty list.
func (l Allowlist) Allows(ip string) bool {
	if l.Empty() {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
