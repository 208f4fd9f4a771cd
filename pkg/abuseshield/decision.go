package abuseshield

import "time"

// Verdict is the outcome of a rate limit decision.
type Verdict int

const (
	// VerdictAllow lets the request through to the business handler.
	VerdictAllow Verdict = iota

	// VerdictDeny rejects the request for exceeding a window quota (429).
	VerdictDeny

	// VerdictBlocked rejects the request because its IP carries an active
	// block (403), regardless of path.
	VerdictBlocked
)

// String returns the verdict's name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision contains the result of a rate limit check.
type Decision struct {
	// Verdict indicates whether the request is allowed, denied or blocked.
	Verdict Verdict

	// Class is the endpoint class the request's path resolved to.
	Class string

	// Limit is the class quota per window.
	Limit int

	// Current is the request count observed in the active window, including
	// this request when it was allowed.
	Current int

	// Remaining is how many further requests the window still admits.
	Remaining int

	// Reset is when the active window expires.
	Reset time.Time

	// Reason names the exceeded quota scope on VerdictDeny
	// (ip_quota or identity_quota).
	Reason string

	// RetryAfter is how long the client should wait: the escalating backoff
	// on VerdictDeny, the remaining block time on VerdictBlocked.
	RetryAfter time.Duration

	// BlockedUntil is when an active block expires; set on VerdictBlocked.
	BlockedUntil time.Time
}

// Allowed reports whether the request may proceed.
func (d *Decision) Allowed() bool {
	return d.Verdict == VerdictAllow
}
