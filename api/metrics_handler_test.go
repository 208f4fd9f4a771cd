package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/abuseshield/metrics"
	"github.com/yourusername/abuseshield/pkg/abuseshield"
)

func TestMetricsSnapshot(t *testing.T) {
	tracker := metrics.NewTracker()
	tracker.RecordDecision("203.0.113.7", abuseshield.Decision{Verdict: abuseshield.VerdictAllow})
	tracker.RecordDecision("203.0.113.7", abuseshield.Decision{Verdict: abuseshield.VerdictDeny})

	h := NewMetricsHandler(tracker)

	w := httptest.NewRecorder()
	h.Snapshot(w, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.DeniedRequests)
	require.Len(t, snap.TopOffenders, 1)
	assert.Equal(t, "203.0.113.7", snap.TopOffenders[0].ClientIP)

	w = httptest.NewRecorder()
	h.Snapshot(w, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/metrics?top=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.Snapshot(w, httptest.NewRequest(http.MethodPost, "/admin/ratelimit/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
