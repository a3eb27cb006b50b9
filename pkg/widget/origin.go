// Package widget holds the public embed contract: origin whitelisting, the
// embed script and the iframe page that hosts a voice session.
package widget

import (
	"net"
	"net/url"
	"strings"
)

// RequestHost returns the host the widget is embedded on, taken from the
// Origin header or, failing that, the Referer.
func RequestHost(origin, referer string) string {
	for _, raw := range []string{origin, referer} {
		if raw == "" || raw == "null" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return normalizeHost(u.Host)
		}
	}
	return ""
}

// OriginAllowed checks host against the widget's allowed domains. Entries are
// exact hosts or "*.domain" wildcards; a leading "www." and any port are
// ignored on both sides. An empty list allows every origin.
func OriginAllowed(domains []string, host string) bool {
	if len(domains) == 0 {
		return true
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = normalizeHost(d)
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "*.") {
			apex := d[2:]
			if host == apex || strings.HasSuffix(host, "."+apex) {
				return true
			}
			continue
		}
		if host == d {
			return true
		}
	}
	return false
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	h = strings.SplitN(h, "/", 2)[0]
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimPrefix(strings.TrimSuffix(h, "."), "www.")
}
