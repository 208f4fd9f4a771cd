package abuseshield

import (
	"net"
	"net/http"
	"strings"
)

// RequestContext is the per-request value the gate hands to the decision
// engine. It is constructed at request entry and discarded at exit, never
// persisted.
type RequestContext struct {
	// ClientIP is the resolved canonical address: the first forwarded-for
	// token when present, else the transport peer address. Malformed values
	// pass through as opaque strings; tracking an attacker under whatever
	// string they sent beats dropping the request on a parse error.
	ClientIP string

	// IdentityKey is "user:"+stableID for authenticated requests, empty
	// otherwise. Absence degrades tracking to IP-only.
	IdentityKey string

	Path   string
	Method string

	// UserAgent is carried into violation records, truncated there.
	UserAgent string

	// CorrelationID is an opaque tracing token created upstream and passed
	// through to violation records and error responses.
	CorrelationID string
}

// IdentityFunc reports the stable identifier of the request's authenticated
// principal, if any. Implementations must be side-effect free and must never
// panic; returning ok=false falls back to IP-only tracking.
type IdentityFunc func(r *http.Request) (id string, ok bool)

// ResolveClient extracts the canonical client IP and, when identity is
// resolvable, the identity key from an inbound request. It has no failure
// mode: missing or malformed inputs degrade to whatever is available.
func ResolveClient(r *http.Request, identity IdentityFunc) RequestContext {
	rc := RequestContext{
		ClientIP:  clientIP(r),
		Path:      r.URL.Path,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
	}
	if identity != nil {
		if id, ok := identity(r); ok && id != "" {
			rc.IdentityKey = "user:" + id
		}
	}
	return rc
}

// clientIP resolves the canonical address the way a proxy-fronted deployment
// needs: first X-Forwarded-For token, then X-Real-IP, then RemoteAddr with
// the port stripped.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not carry a port in some edge cases
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
