package abuseshield

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourusername/abuseshield/store"
)

// trustCacheKey is the counter-store key holding the cached trust set as a
// JSON array, shared with other nodes hitting the same store.
const trustCacheKey = "trust:ips"

// TrustList answers IsTrusted for the decision engine. It layers a
// node-local copy over the counter-store cache over the durable trust
// store. Both cache tiers use the configured TTL, so trust changes take up
// to one TTL to propagate; AddTrusted invalidates both tiers explicitly.
//
// Degradation is fail-closed: when the durable source cannot be read,
// nothing is trusted. An unreachable trust store must never exempt anyone.
type TrustList struct {
	counters store.CounterStore
	source   store.TrustStore // nil means seed-only
	seed     map[string]struct{}
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// reload bounds durable-source reload attempts so a cache-miss storm
	// during a database outage does not hammer the source.
	reload *rate.Limiter

	mu      sync.RWMutex
	cached  map[string]struct{}
	expires time.Time
}

// NewTrustList creates a trust list over the given cache and durable
// source. The seed IPs are trusted unconditionally.
func NewTrustList(counters store.CounterStore, source store.TrustStore, seed []string, ttl time.Duration, logger *slog.Logger) *TrustList {
	if logger == nil {
		logger = slog.Default()
	}
	seedSet := make(map[string]struct{}, len(seed))
	for _, ip := range seed {
		seedSet[ip] = struct{}{}
	}
	return &TrustList{
		counters: counters,
		source:   source,
		seed:     seedSet,
		ttl:      ttl,
		logger:   logger.With("component", "trustlist"),
		now:      time.Now,
		reload:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// IsTrusted reports whether ip bypasses all quota and block checks.
func (t *TrustList) IsTrusted(ctx context.Context, ip string) bool {
	if _, ok := t.seed[ip]; ok {
		return true
	}

	t.mu.RLock()
	cached, expires := t.cached, t.expires
	t.mu.RUnlock()

	if cached != nil && t.now().Before(expires) {
		_, ok := cached[ip]
		return ok
	}

	set, ok := t.fromCache(ctx)
	if !ok {
		set, ok = t.fromSource(ctx)
		if !ok {
			return false
		}
	}

	t.mu.Lock()
	t.cached = set
	t.expires = t.now().Add(t.ttl)
	t.mu.Unlock()

	_, trusted := set[ip]
	return trusted
}

// fromCache reads the shared counter-store cache tier.
func (t *TrustList) fromCache(ctx context.Context) (map[string]struct{}, bool) {
	raw, ok, err := t.counters.Get(ctx, trustCacheKey)
	if err != nil {
		t.logger.Warn("trust cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var ips []string
	if err := json.Unmarshal([]byte(raw), &ips); err != nil {
		// Corrupt cached value: treat as absent and let a reload repopulate.
		t.logger.Warn("trust cache holds malformed JSON", "error", err)
		return nil, false
	}

	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set, true
}

// fromSource reloads from the durable trust store and repopulates the
// shared cache. Attempts are throttled; when throttled or failing, the
// caller falls back to the empty set.
func (t *TrustList) fromSource(ctx context.Context) (map[string]struct{}, bool) {
	if t.source == nil {
		return map[string]struct{}{}, true
	}
	if !t.reload.Allow() {
		return nil, false
	}

	ips, err := t.source.ActiveIPs(ctx, t.now())
	if err != nil {
		t.logger.Error("trust list reload failed, failing closed", "error", err)
		return nil, false
	}

	if data, err := json.Marshal(ips); err == nil {
		if err := t.counters.Set(ctx, trustCacheKey, string(data), t.ttl); err != nil {
			t.logger.Warn("trust cache write failed", "error", err)
		}
	}

	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set, true
}

// Invalidate drops both cache tiers so the next check reloads from the
// durable source. Called after administrative trust-list changes.
func (t *TrustList) Invalidate(ctx context.Context) {
	t.mu.Lock()
	t.cached = nil
	t.expires = time.Time{}
	t.mu.Unlock()

	if err := t.counters.Delete(ctx, trustCacheKey); err != nil {
		t.logger.Warn("trust cache invalidation failed", "error", err)
	}
}
