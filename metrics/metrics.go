// Package metrics tracks in-process statistics over gate decisions for
// dashboards and the reporting API. It is node-local and read-only for
// consumers; the durable violation log remains the source of truth.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/abuseshield/pkg/abuseshield"
)

// Tracker accumulates decision statistics.
type Tracker struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	blockedRequests atomic.Int64

	// Per-client stats
	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	startTime   time.Time
}

// ClientStats tracks statistics for a specific client IP.
type ClientStats struct {
	ClientIP        string    `json:"client_ip"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	DeniedRequests  int64     `json:"denied_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	FirstRequestAt  time.Time `json:"first_request_at"`
	LastRequestAt   time.Time `json:"last_request_at"`
}

// Snapshot is a point-in-time view for the reporting API.
type Snapshot struct {
	TotalRequests   int64         `json:"total_requests"`
	AllowedRequests int64         `json:"allowed_requests"`
	DeniedRequests  int64         `json:"denied_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	TopOffenders    []ClientStats `json:"top_offenders"`
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		clientStats: make(map[string]*ClientStats),
		startTime:   time.Now(),
	}
}

// RecordDecision records one gate decision. Implements the gate's
// DecisionRecorder.
func (t *Tracker) RecordDecision(clientIP string, d abuseshield.Decision) {
	t.totalRequests.Add(1)

	switch d.Verdict {
	case abuseshield.VerdictAllow:
		t.allowedRequests.Add(1)
	case abuseshield.VerdictDeny:
		t.deniedRequests.Add(1)
	case abuseshield.VerdictBlocked:
		t.blockedRequests.Add(1)
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	stats, exists := t.clientStats[clientIP]
	if !exists {
		stats = &ClientStats{
			ClientIP:       clientIP,
			FirstRequestAt: now,
		}
		t.clientStats[clientIP] = stats
	}
	stats.TotalRequests++
	stats.LastRequestAt = now
	switch d.Verdict {
	case abuseshield.VerdictAllow:
		stats.AllowedRequests++
	case abuseshield.VerdictDeny:
		stats.DeniedRequests++
	case abuseshield.VerdictBlocked:
		stats.BlockedRequests++
	}
}

// Snapshot returns the current totals and the top offenders by denied plus
// blocked requests.
func (t *Tracker) Snapshot(topN int) Snapshot {
	if topN <= 0 {
		topN = 10
	}

	snap := Snapshot{
		TotalRequests:   t.totalRequests.Load(),
		AllowedRequests: t.allowedRequests.Load(),
		DeniedRequests:  t.deniedRequests.Load(),
		BlockedRequests: t.blockedRequests.Load(),
		UptimeSeconds:   int64(time.Since(t.startTime).Seconds()),
	}

	t.mu.RLock()
	offenders := make([]ClientStats, 0, len(t.clientStats))
	for _, s := range t.clientStats {
		if s.DeniedRequests+s.BlockedRequests > 0 {
			offenders = append(offenders, *s)
		}
	}
	t.mu.RUnlock()

	sort.Slice(offenders, func(i, j int) bool {
		return offenders[i].DeniedRequests+offenders[i].BlockedRequests >
			offenders[j].DeniedRequests+offenders[j].BlockedRequests
	})
	if len(offenders) > topN {
		offenders = offenders[:topN]
	}
	snap.TopOffenders = offenders
	return snap
}

// ClientCount returns the number of distinct clients seen.
func (t *Tracker) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clientStats)
}

// Reset clears all statistics.
func (t *Tracker) Reset() {
	t.totalRequests.Store(0)
	t.allowedRequests.Store(0)
	t.deniedRequests.Store(0)
	t.blockedRequests.Store(0)

	t.mu.Lock()
	t.clientStats = make(map[string]*ClientStats)
	t.startTime = time.Now()
	t.mu.Unlock()
}
