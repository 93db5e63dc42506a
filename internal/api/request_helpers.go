package api

import (
	"net"
	"net/http"
	"strings"
)

// clientIP returns the caller address. A forwarded address set by the
// real IP middleware has no port.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
