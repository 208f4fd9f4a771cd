package abuseshield

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourusername/abuseshield/store"
)

// fakeTrustSource is an in-test TrustStore serving a fixed IP set.
type fakeTrustSource struct {
	ips   []string
	err   error
	calls int
}

func (f *fakeTrustSource) ActiveIPs(context.Context, time.Time) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ips, nil
}

func (f *fakeTrustSource) Upsert(context.Context, string, string) error { return nil }

func (f *fakeTrustSource) List(context.Context) ([]store.TrustedEntry, error) { return nil, nil }

func (f *fakeTrustSource) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrustListSeed(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	tl := NewTrustList(counters, nil, []string{"127.0.0.1", "10.0.0.5"}, time.Hour, discardLogger())
	ctx := context.Background()

	if !tl.IsTrusted(ctx, "127.0.0.1") || !tl.IsTrusted(ctx, "10.0.0.5") {
		t.Error("seed IPs should be trusted")
	}
	if tl.IsTrusted(ctx, "203.0.113.7") {
		t.Error("unseeded IP trusted with no source")
	}
}

func TestTrustListLoadsFromSource(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	source := &fakeTrustSource{ips: []string{"203.0.113.7"}}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())
	ctx := context.Background()

	if !tl.IsTrusted(ctx, "203.0.113.7") {
		t.Fatal("source IP should be trusted after reload")
	}
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want 1", source.calls)
	}

	// Further checks are served from the local cache.
	for i := 0; i < 10; i++ {
		tl.IsTrusted(ctx, "203.0.113.7")
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d after cached checks, want 1", source.calls)
	}

	// The reload populated the shared cache tier too.
	if raw, ok, _ := counters.Get(ctx, trustCacheKey); !ok || raw != `["203.0.113.7"]` {
		t.Errorf("shared cache = %q (present=%v), want the JSON trust set", raw, ok)
	}
}

func TestTrustListServesSharedCache(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	counters.Set(context.Background(), trustCacheKey, `["198.51.100.4"]`, time.Hour)

	source := &fakeTrustSource{ips: []string{"203.0.113.7"}}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())

	if !tl.IsTrusted(context.Background(), "198.51.100.4") {
		t.Error("IP in the shared cache tier should be trusted")
	}
	if source.calls != 0 {
		t.Errorf("durable source consulted despite a warm shared cache: %d calls", source.calls)
	}
}

func TestTrustListFailsClosed(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	source := &fakeTrustSource{err: errors.New("database down")}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())

	if tl.IsTrusted(context.Background(), "203.0.113.7") {
		t.Error("trust check should fail closed when the source is down")
	}
}

func TestTrustListMalformedCacheFallsThrough(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	counters.Set(context.Background(), trustCacheKey, "{not json", time.Hour)

	source := &fakeTrustSource{ips: []string{"203.0.113.7"}}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())

	if !tl.IsTrusted(context.Background(), "203.0.113.7") {
		t.Error("malformed cache should fall through to the durable source")
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d, want 1", source.calls)
	}
}

func TestTrustListInvalidate(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	source := &fakeTrustSource{ips: []string{"203.0.113.7"}}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())
	ctx := context.Background()

	if !tl.IsTrusted(ctx, "203.0.113.7") {
		t.Fatal("precondition: source IP trusted")
	}

	source.ips = []string{"203.0.113.7", "198.51.100.4"}
	if tl.IsTrusted(ctx, "198.51.100.4") {
		t.Fatal("new entry visible before invalidation")
	}

	tl.Invalidate(ctx)
	// Lift the reload throttle so the post-invalidation reload is immediate.
	tl.reload = rate.NewLimiter(rate.Inf, 1)
	if !tl.IsTrusted(ctx, "198.51.100.4") {
		t.Error("new entry not visible after invalidation")
	}
}

func TestTrustListReloadThrottled(t *testing.T) {
	clock := newFakeClock()
	counters := newFakeCounters(clock)
	source := &fakeTrustSource{err: errors.New("database down")}
	tl := NewTrustList(counters, source, nil, time.Hour, discardLogger())
	ctx := context.Background()

	// A burst of misses during an outage reaches the source at most once.
	for i := 0; i < 50; i++ {
		tl.IsTrusted(ctx, "203.0.113.7")
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d during outage burst, want 1", source.calls)
	}
}
