package metrics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/abuseshield/pkg/abuseshield"
)

func TestTrackerTotals(t *testing.T) {
	tr := NewTracker()

	tr.RecordDecision("10.0.0.1", abuseshield.Decision{Verdict: abuseshield.VerdictAllow})
	tr.RecordDecision("10.0.0.1", abuseshield.Decision{Verdict: abuseshield.VerdictAllow})
	tr.RecordDecision("10.0.0.1", abuseshield.Decision{Verdict: abuseshield.VerdictDeny})
	tr.RecordDecision("10.0.0.2", abuseshield.Decision{Verdict: abuseshield.VerdictBlocked})

	snap := tr.Snapshot(10)
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.AllowedRequests)
	assert.Equal(t, int64(1), snap.DeniedRequests)
	assert.Equal(t, int64(1), snap.BlockedRequests)
	assert.Equal(t, 2, tr.ClientCount())
}

func TestTrackerTopOffenders(t *testing.T) {
	tr := NewTracker()

	// 10.0.0.3 is denied most, 10.0.0.2 second; 10.0.0.1 never offended.
	tr.RecordDecision("10.0.0.1", abuseshield.Decision{Verdict: abuseshield.VerdictAllow})
	for i := 0; i < 3; i++ {
		tr.RecordDecision("10.0.0.3", abuseshield.Decision{Verdict: abuseshield.VerdictDeny})
	}
	tr.RecordDecision("10.0.0.2", abuseshield.Decision{Verdict: abuseshield.VerdictDeny})
	tr.RecordDecision("10.0.0.2", abuseshield.Decision{Verdict: abuseshield.VerdictBlocked})

	snap := tr.Snapshot(10)
	require.Len(t, snap.TopOffenders, 2)
	assert.Equal(t, "10.0.0.3", snap.TopOffenders[0].ClientIP)
	assert.Equal(t, int64(3), snap.TopOffenders[0].DeniedRequests)
	assert.Equal(t, "10.0.0.2", snap.TopOffenders[1].ClientIP)

	// A tighter topN truncates the list.
	snap = tr.Snapshot(1)
	require.Len(t, snap.TopOffenders, 1)
	assert.Equal(t, "10.0.0.3", snap.TopOffenders[0].ClientIP)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.RecordDecision("10.0.0.1", abuseshield.Decision{Verdict: abuseshield.VerdictDeny})

	tr.Reset()

	snap := tr.Snapshot(10)
	assert.Zero(t, snap.TotalRequests)
	assert.Empty(t, snap.TopOffenders)
	assert.Zero(t, tr.ClientCount())
}

func TestTrackerConcurrentRecording(t *testing.T) {
	tr := NewTracker()

	const goroutines = 10
	const perGoroutine = 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.0.%d", g)
			for i := 0; i < perGoroutine; i++ {
				tr.RecordDecision(ip, abuseshield.Decision{Verdict: abuseshield.VerdictAllow})
			}
		}(g)
	}
	wg.Wait()

	snap := tr.Snapshot(10)
	assert.Equal(t, int64(goroutines*perGoroutine), snap.TotalRequests)
	assert.Equal(t, goroutines, tr.ClientCount())
}
