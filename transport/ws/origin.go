package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed validates r.Header["Origin"] against an allow-list.
//
// Allowed entries support:
//   - Full Origin values with scheme, e.g. "https://example.com"
//   - Hostnames, e.g. "example.com"
//   - Wildcard hostnames, e.g. "*.example.com"
//   - host:port entries, matched against the parsed Host
//   - Exact non-standard Origin values, e.g. "null"
//
// If the request has no Origin header, allowNoOrigin controls acceptance.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	var host, hostname string
	if parsed, err := url.Parse(origin); err == nil {
		host, hostname = parsed.Host, parsed.Hostname()
	}
	for _, raw := range allowed {
		entry := strings.TrimSpace(raw)
		if entry != "" && matchesOriginEntry(entry, origin, host, hostname) {
			return true
		}
	}
	return false
}

func matchesOriginEntry(entry, origin, host, hostname string) bool {
	switch {
	case strings.Contains(entry, "://"):
		return origin == entry
	case strings.HasPrefix(entry, "*."):
		base := strings.TrimPrefix(entry, "*.")
		return hostname != "" && base != "" && (hostname == base || strings.HasSuffix(hostname, "."+base))
	case host != "" && isHostPort(entry):
		return host == entry
	default:
		return (hostname != "" && hostname == entry) || origin == entry
	}
}

func isHostPort(entry string) bool {
	_, _, err := net.SplitHostPort(entry)
	return err == nil
}

// NewOriginChecker returns a websocket upgrader CheckOrigin function.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
