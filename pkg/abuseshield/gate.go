package abuseshield

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DecisionRecorder receives every gate decision for monitoring. Recording
// is best-effort and must be cheap; it runs on the request path.
type DecisionRecorder interface {
	RecordDecision(clientIP string, d Decision)
}

// Gate is the request-path integration point: an HTTP middleware that asks
// the decision engine before handing control downstream and short-circuits
// denied or blocked requests with structured responses.
type Gate struct {
	engine   *Engine
	cfg      *Config
	identity IdentityFunc
	metrics  DecisionRecorder
	logger   *slog.Logger
}

// NewGate creates a gate around the given engine.
//
// Example:
//
//	gate, err := abuseshield.NewGate(engine,
//	    abuseshield.WithIdentityFunc(sessionUserID),
//	    abuseshield.WithMetrics(tracker),
//	)
func NewGate(engine *Engine, opts ...GateOption) (*Gate, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine cannot be nil", ErrInvalidConfig)
	}

	g := &Gate{
		engine: engine,
		cfg:    engine.cfg,
		logger: slog.Default().With("component", "gate"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return g, nil
}

// Middleware wraps an http.Handler with rate limiting and abuse blocking.
// Requests whose path is outside the configured prefix scope pass straight
// through. Allowed requests gain informational X-RateLimit-* headers;
// denied requests receive 429 with Retry-After, blocked ones 403 with
// Retry-After carrying the remaining block time.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled || !g.cfg.InScope(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rc := ResolveClient(r, g.identity)
		rc.CorrelationID = correlationID(r)

		decision := g.engine.Decide(r.Context(), rc)
		if g.metrics != nil {
			g.metrics.RecordDecision(rc.ClientIP, decision)
		}

		switch decision.Verdict {
		case VerdictDeny:
			g.logger.Info("request denied",
				"ip", rc.ClientIP, "path", rc.Path, "reason", decision.Reason,
				"endpoint_class", decision.Class, "correlation_id", rc.CorrelationID)
			g.writeDenied(w, rc, decision)

		case VerdictBlocked:
			g.logger.Info("request from blocked ip",
				"ip", rc.ClientIP, "path", rc.Path,
				"blocked_until", decision.BlockedUntil, "correlation_id", rc.CorrelationID)
			g.writeBlocked(w, rc, decision)

		default:
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
			w.Header().Set("X-RateLimit-Endpoint", decision.Class)
			next.ServeHTTP(w, r)
		}
	})
}

// errorBody is the envelope of structured denial responses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	CorrelationID     string `json:"correlation_id"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	EndpointType      string `json:"endpoint_type,omitempty"`
	BlockedUntil      string `json:"blocked_until,omitempty"`
}

func (g *Gate) writeDenied(w http.ResponseWriter, rc RequestContext, d Decision) {
	retrySecs := int64(d.RetryAfter / time.Second)

	w.Header().Set("Retry-After", strconv.FormatInt(retrySecs, 10))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	w.Header().Set("X-RateLimit-Endpoint", d.Class)

	if !jsonClass(d.Class) {
		minutes := (retrySecs + 59) / 60
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprintf(w, "Too many requests. Please try again in %d minute(s).\n", minutes)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:              "RATE_LIMIT_EXCEEDED",
		Message:           "Too many requests. Please slow down and try again later.",
		CorrelationID:     rc.CorrelationID,
		RetryAfterSeconds: retrySecs,
		EndpointType:      d.Class,
	}})
}

func (g *Gate) writeBlocked(w http.ResponseWriter, rc RequestContext, d Decision) {
	until := d.BlockedUntil.UTC().Format(time.RFC3339)

	retrySecs := int64(d.RetryAfter / time.Second)
	if retrySecs < 0 {
		retrySecs = 0
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retrySecs, 10))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.BlockedUntil.Unix(), 10))
	w.Header().Set("X-RateLimit-Endpoint", d.Class)

	if !jsonClass(d.Class) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintf(w, "Your address is temporarily blocked until %s.\n", until)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:          "IP_BLOCKED",
		Message:       "This address is temporarily blocked due to repeated rate limit violations.",
		CorrelationID: rc.CorrelationID,
		BlockedUntil:  until,
	}})
}

// jsonClass reports whether denial responses for the class are JSON-shaped.
func jsonClass(class string) bool {
	return class == ClassAPI || class == ClassGraphQL
}

// correlationID passes through the upstream tracing token, minting one only
// when no upstream component did.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
