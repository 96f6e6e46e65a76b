package api

import (
	"net/http"
	"strings"
)

// UnknownClient is the shared fallback key for requests whose origin cannot
// be determined. All such requests draw from one rate-limit bucket.
const UnknownClient = "unknown"

// ClientKey extracts a stable identity for the caller from proxy headers.
// Precedence: first X-Forwarded-For entry, then X-Real-Ip, then
// CF-Connecting-IP. A request with none of these maps to UnknownClient.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the originating client; later entries name
		// intermediate proxies.
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
