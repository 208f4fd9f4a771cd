package api

import (
	"net/http"
	"strconv"

	"github.com/yourusername/abuseshield/metrics"
)

// MetricsHandler serves the in-process decision statistics.
type MetricsHandler struct {
	tracker *metrics.Tracker
}

// NewMetricsHandler creates a handler over the given tracker.
func NewMetricsHandler(tracker *metrics.Tracker) *MetricsHandler {
	return &MetricsHandler{tracker: tracker}
}

// Snapshot handles GET /admin/ratelimit/metrics.
// Query parameter: top=<n> offender count (default 10).
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET requests are allowed")
		return
	}

	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "invalid_request", "top must be a positive integer")
			return
		}
		top = n
	}

	sendJSON(w, http.StatusOK, h.tracker.Snapshot(top))
}
