package abuseshield

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/yourusername/abuseshield/store"
)

// Counter scopes. Every window and violation counter is keyed on one of
// these dimensions.
const (
	scopeIP       = "ip"
	scopeIdentity = "id"
)

// Engine is the rate limit decision core. It is stateless and reentrant:
// all mutable state lives in the injected stores, so one engine serves any
// number of concurrent requests.
type Engine struct {
	cfg        *Config
	table      *classTable
	counters   store.CounterStore
	blocks     store.BlockStore
	violations store.ViolationStore
	trust      *TrustList
	logger     *slog.Logger

	// now is injected for deterministic window and block arithmetic in tests.
	now func() time.Time
}

// NewEngine builds an engine over the given configuration and stores. The
// configuration is validated here; an invalid table refuses to start rather
// than limit with ambiguous rules. The blocks, violations and trust
// dependencies may be nil, which disables blocking, audit logging and the
// trust bypass respectively.
func NewEngine(cfg *Config, counters store.CounterStore, blocks store.BlockStore, violations store.ViolationStore, trust *TrustList, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counters == nil {
		return nil, fmt.Errorf("%w: counter store", ErrMissingStore)
	}
	table, err := cfg.table()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:        cfg,
		table:      table,
		counters:   counters,
		blocks:     blocks,
		violations: violations,
		trust:      trust,
		logger:     logger.With("component", "engine"),
		now:        time.Now,
	}, nil
}

// Classify resolves a request path to its endpoint class.
func (e *Engine) Classify(path string) EndpointClass {
	return e.table.Classify(path)
}

// Decide runs the full decision algorithm for one request: classification,
// trust bypass, block check, fixed-window quota checks for the IP scope and
// (when authenticated) the identity scope, then either the violation path or
// the counter increments.
//
// Storage failures never surface as request failures. Quota checks and the
// block lookup fail open, increments are best-effort, and every degradation
// is logged with the request's correlation ID.
func (e *Engine) Decide(ctx context.Context, rc RequestContext) Decision {
	class := e.table.Classify(rc.Path)
	now := e.now()

	if e.trust != nil && e.trust.IsTrusted(ctx, rc.ClientIP) {
		return Decision{
			Verdict:   VerdictAllow,
			Class:     class.Name,
			Limit:     class.MaxRequests,
			Remaining: class.MaxRequests,
			Reset:     now.Add(class.Window()),
		}
	}

	if until, blocked := e.activeBlock(ctx, rc, now); blocked {
		return Decision{
			Verdict:      VerdictBlocked,
			Class:        class.Name,
			Limit:        class.MaxRequests,
			RetryAfter:   until.Sub(now),
			BlockedUntil: until,
		}
	}

	ipKey := windowKey(scopeIP, rc.ClientIP, class.Name)
	ipCount := e.readCount(ctx, ipKey, rc.CorrelationID)
	if ipCount >= int64(class.MaxRequests) {
		return e.violate(ctx, rc, class, scopeIP, rc.ClientIP, store.ReasonIPQuota, ipCount, now)
	}

	if rc.IdentityKey != "" {
		idKey := windowKey(scopeIdentity, rc.IdentityKey, class.Name)
		idCount := e.readCount(ctx, idKey, rc.CorrelationID)
		if idCount >= int64(class.MaxRequests) {
			return e.violate(ctx, rc, class, scopeIdentity, rc.IdentityKey, store.ReasonIdentityQuota, idCount, now)
		}
	}

	// Under quota on every applicable scope: count this request. The
	// increment is the atomic increment-and-read primitive, so two
	// concurrent requests can never lose a count between them.
	current := ipCount + 1
	if n, err := e.counters.Increment(ctx, ipKey, class.Window()); err != nil {
		e.logger.Warn("window counter increment failed",
			"key", ipKey, "correlation_id", rc.CorrelationID, "error", err)
	} else {
		current = n
	}
	if rc.IdentityKey != "" {
		idKey := windowKey(scopeIdentity, rc.IdentityKey, class.Name)
		if _, err := e.counters.Increment(ctx, idKey, class.Window()); err != nil {
			e.logger.Warn("window counter increment failed",
				"key", idKey, "correlation_id", rc.CorrelationID, "error", err)
		}
	}

	remaining := int64(class.MaxRequests) - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Verdict:   VerdictAllow,
		Class:     class.Name,
		Limit:     class.MaxRequests,
		Current:   int(current),
		Remaining: int(remaining),
		Reset:     now.Add(class.Window()),
	}
}

// activeBlock checks the counter-store mirror first and the durable block
// store second. Any storage failure degrades to not-blocked: a store outage
// must not become a total outage.
func (e *Engine) activeBlock(ctx context.Context, rc RequestContext, now time.Time) (time.Time, bool) {
	mirror := blockMirrorKey(rc.ClientIP)
	if raw, ok, err := e.counters.Get(ctx, mirror); err != nil {
		e.logger.Warn("block mirror lookup failed",
			"ip", rc.ClientIP, "correlation_id", rc.CorrelationID, "error", err)
	} else if ok {
		until, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			e.logger.Warn("block mirror holds malformed timestamp",
				"ip", rc.ClientIP, "value", raw)
		} else if now.Before(until) {
			return until, true
		}
	}

	if e.blocks == nil {
		return time.Time{}, false
	}

	rec, err := e.blocks.Find(ctx, rc.ClientIP)
	if err != nil {
		e.logger.Error("block lookup failed, failing open",
			"ip", rc.ClientIP, "correlation_id", rc.CorrelationID, "error", err)
		return time.Time{}, false
	}
	if rec == nil || !rec.Active {
		return time.Time{}, false
	}
	if rec.Expired(now) {
		// Lazy deactivation; the janitor sweeps whatever this misses.
		if _, err := e.blocks.Deactivate(ctx, rc.ClientIP, "expired"); err != nil {
			e.logger.Warn("lazy block deactivation failed", "ip", rc.ClientIP, "error", err)
		}
		return time.Time{}, false
	}

	// Repopulate the mirror so the next requests short-circuit in the cache.
	if err := e.counters.Set(ctx, mirror, rec.BlockedUntil.Format(time.RFC3339), rec.BlockedUntil.Sub(now)); err != nil {
		e.logger.Warn("block mirror write failed", "ip", rc.ClientIP, "error", err)
	}
	return rec.BlockedUntil, true
}

// violate handles a quota breach: escalating backoff, the violation
// counter, the audit record, and the auto-block transition.
//
// The backoff exponent is the violation count observed before this breach
// (first breach waits one base interval); the auto-block test and the block
// duration use the post-increment count, so the first crossing of the
// threshold yields a one-hour block. Counts at or past the threshold take
// the full backoff cap.
func (e *Engine) violate(ctx context.Context, rc RequestContext, class EndpointClass, scope, identifier, reason string, current int64, now time.Time) Decision {
	vKey := violationKey(scope, identifier)
	v := e.readCount(ctx, vKey, rc.CorrelationID)

	// base<<v only applies while it stays under the cap; comparing against
	// backoff>>v instead of shifting up keeps the arithmetic from wrapping
	// at high exponents.
	backoff := e.cfg.maxBackoff()
	if v < int64(e.cfg.AutoBlockThreshold) && v < 63 {
		if base := e.cfg.backoffBase(); base <= backoff>>uint(v) {
			backoff = base << uint(v)
		}
	}

	vPost := v + 1
	if n, err := e.counters.Increment(ctx, vKey, e.cfg.violationTTL()); err != nil {
		e.logger.Warn("violation counter increment failed",
			"key", vKey, "correlation_id", rc.CorrelationID, "error", err)
	} else {
		vPost = n
	}

	e.record(ctx, rc, class, reason, current)

	if vPost >= int64(e.cfg.AutoBlockThreshold) {
		e.autoBlock(ctx, rc, class, vPost, now)
	}

	return Decision{
		Verdict:    VerdictDeny,
		Class:      class.Name,
		Limit:      class.MaxRequests,
		Current:    int(current),
		Reason:     reason,
		RetryAfter: backoff,
		Reset:      now.Add(class.Window()),
	}
}

// record appends one audit row. The violation log is best-effort and never
// read on the hot path; a write failure is logged and swallowed.
func (e *Engine) record(ctx context.Context, rc RequestContext, class EndpointClass, reason string, current int64) {
	if e.violations == nil {
		return
	}

	ua := rc.UserAgent
	if len(ua) > 256 {
		ua = ua[:256]
	}
	rec := &store.ViolationRecord{
		Timestamp:     e.now(),
		ClientIP:      rc.ClientIP,
		IdentityKey:   rc.IdentityKey,
		Path:          rc.Path,
		EndpointClass: class.Name,
		Reason:        reason,
		RequestCount:  int(current),
		Limit:         class.MaxRequests,
		CorrelationID: rc.CorrelationID,
		UserAgent:     ua,
	}
	if err := e.violations.Append(ctx, rec); err != nil {
		e.logger.Error("violation log append failed",
			"ip", rc.ClientIP, "correlation_id", rc.CorrelationID, "error", err)
	}
}

// autoBlock creates or extends the durable block for the request's IP and
// mirrors it into the counter store. Block duration grows by one hour per
// violation past the threshold, capped at the configured maximum.
func (e *Engine) autoBlock(ctx context.Context, rc RequestContext, class EndpointClass, vPost int64, now time.Time) {
	if e.blocks == nil {
		return
	}

	duration := time.Duration(vPost-int64(e.cfg.AutoBlockThreshold)+1) * time.Hour
	if limit := e.cfg.maxBlock(); duration > limit {
		duration = limit
	}
	until := now.Add(duration)

	rec := &store.BlockRecord{
		IP:             rc.ClientIP,
		BlockedAt:      now,
		BlockedUntil:   until,
		ViolationCount: int(vPost),
		EndpointClass:  class.Name,
		LastPath:       rc.Path,
		Reason:         fmt.Sprintf("auto-blocked after %d violations", vPost),
		Active:         true,
	}
	if err := e.blocks.Upsert(ctx, rec); err != nil {
		e.logger.Error("block record write failed",
			"ip", rc.ClientIP, "correlation_id", rc.CorrelationID, "error", err)
		return
	}

	if err := e.counters.Set(ctx, blockMirrorKey(rc.ClientIP), until.Format(time.RFC3339), duration); err != nil {
		e.logger.Warn("block mirror write failed", "ip", rc.ClientIP, "error", err)
	}

	e.logger.Info("ip auto-blocked",
		"ip", rc.ClientIP, "violations", vPost, "blocked_until", until,
		"endpoint_class", class.Name, "correlation_id", rc.CorrelationID)
}

// Unblock lifts the block on ip: the durable record flips inactive with an
// audit note, and the mirror and both violation counters are cleared so the
// penalty ladder restarts. Idempotent.
func (e *Engine) Unblock(ctx context.Context, ip, note string) error {
	if e.blocks != nil {
		if _, err := e.blocks.Deactivate(ctx, ip, note); err != nil {
			return err
		}
	}
	if err := e.counters.Delete(ctx, blockMirrorKey(ip)); err != nil {
		e.logger.Warn("block mirror delete failed", "ip", ip, "error", err)
	}
	if err := e.counters.Delete(ctx, violationKey(scopeIP, ip)); err != nil {
		e.logger.Warn("violation counter delete failed", "ip", ip, "error", err)
	}
	return nil
}

// readCount parses an integer counter, treating absence, storage failure
// and malformed values as zero. Failing open here weakens limiting for one
// window; failing the request would take the whole endpoint down with the
// store.
func (e *Engine) readCount(ctx context.Context, key, correlationID string) int64 {
	raw, ok, err := e.counters.Get(ctx, key)
	if err != nil {
		e.logger.Warn("counter read failed, failing open",
			"key", key, "correlation_id", correlationID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("counter holds malformed value",
			"key", key, "value", raw, "correlation_id", correlationID)
		return 0
	}
	return n
}

func windowKey(scope, identifier, class string) string {
	return "rl:" + scope + ":" + identifier + ":" + class
}

func violationKey(scope, identifier string) string {
	return "vio:" + scope + ":" + identifier
}

func blockMirrorKey(ip string) string {
	return "block:" + ip
}
