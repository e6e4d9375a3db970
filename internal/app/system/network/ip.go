// Package network provides request-origin helpers.
package network

import (
	"net"
	"net/http"
	"strings"
)

// Origin identifies where a request came from. It is recorded on sessions
// and audit events.
type Origin struct {
	IP        string
	UserAgent string
}

// OriginOf captures the client IP and user agent of a request.
func OriginOf(r *http.Request) Origin {
	return Origin{IP: GetClientIP(r), UserAgent: r.UserAgent()}
}

// GetClientIP extracts the client IP address from the request.
// X-Forwarded-For (first hop) and X-Real-IP win over RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
