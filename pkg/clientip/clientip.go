package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultHeaders are consulted, in order, when no headers are configured.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// FromRequest returns the client address of r. The first of headers holding a
// valid address wins; for comma-separated lists such as X-Forwarded-For the
// first valid entry is used. Falls back to RemoteAddr and returns "" when no
// valid address is found.
//
// Only list headers that a proxy in front of the service overwrites: clients
// can set any header themselves.
func FromRequest(r *http.Request, headers ...string) string {
	for _, h := range headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		for part := range strings.SplitSeq(v, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

func normalize(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
