package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NewRealIPMiddleware replaces RemoteAddr with the client address announced
// in X-Forwarded-For or X-Real-IP. The headers are only honored when the
// connection comes from one of the trusted proxies; with no trusted proxies
// every request keeps its peer address.
//
// X-Forwarded-For is walked from the right and the first hop that is not a
// trusted proxy is used, so entries a client prepends are never picked.
func NewRealIPMiddleware(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedClient(r, trusted); ok {
				r.RemoteAddr = ip
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClient(r *http.Request, trusted []netip.Prefix) (string, bool) {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok || !isTrusted(peer, trusted) {
		return "", false
	}

	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		hops := strings.Split(strings.Join(values, ","), ",")
		var earliest netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(hops[i])
			if !ok {
				// a malformed chain cannot be attributed
				return "", false
			}
			if !isTrusted(hop, trusted) {
				return hop.String(), true
			}
			earliest = hop
		}
		return earliest.String(), true
	}

	if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return ip.String(), true
	}
	return "", false
}

// parseAddr accepts a bare address or a host:port pair.
func parseAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
