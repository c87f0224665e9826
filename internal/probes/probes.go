package probes

import (
	"net"
	"strings"
	"time"
)

// defaultDialTimeout bounds individual connection attempts inside a
// probe; the job-level probe timeout is enforced by the coordinator's
// context.
const defaultDialTimeout = 10 * time.Second

// hostOf strips any scheme, path and port from a scan target, leaving
// the bare hostname probes dial against.
func hostOf(target string) string {
	host := strings.TrimSpace(target)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// baseURL returns the https URL for a scan target, preserving an
// explicit http scheme if the caller provided one.
func baseURL(target string) string {
	t := strings.TrimSpace(target)
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return strings.TrimRight(t, "/")
	}
	return "https://" + strings.TrimRight(t, "/")
}
