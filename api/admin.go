// Package api exposes the administrative and reporting surface: listing and
// lifting blocks, managing the trust list, violation summaries and
// maintenance. None of it runs on the request hot path, and authorization
// is delegated to the host's middleware chain.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/yourusername/abuseshield/pkg/abuseshield"
	"github.com/yourusername/abuseshield/store"
)

// AdminHandler serves block, trust and violation administration.
type AdminHandler struct {
	engine     *abuseshield.Engine
	blocks     store.BlockStore
	trusted    store.TrustStore
	violations store.ViolationStore
	trustList  *abuseshield.TrustList
	janitor    *abuseshield.Janitor
}

// NewAdminHandler creates the admin surface over the given collaborators.
func NewAdminHandler(engine *abuseshield.Engine, blocks store.BlockStore, trusted store.TrustStore, violations store.ViolationStore, trustList *abuseshield.TrustList, janitor *abuseshield.Janitor) *AdminHandler {
	return &AdminHandler{
		engine:     engine,
		blocks:     blocks,
		trusted:    trusted,
		violations: violations,
		trustList:  trustList,
		janitor:    janitor,
	}
}

// RegisterRoutes mounts the admin endpoints on mux under /admin/ratelimit/.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/ratelimit/blocks", h.ListBlocked)
	mux.HandleFunc("/admin/ratelimit/unblock", h.Unblock)
	mux.HandleFunc("/admin/ratelimit/trusted", h.Trusted)
	mux.HandleFunc("/admin/ratelimit/violations/summary", h.ViolationSummary)
	mux.HandleFunc("/admin/ratelimit/cleanup", h.Cleanup)
}

// ListBlocked handles GET /admin/ratelimit/blocks.
// Query parameters: active=true to filter to live blocks, ip=<ip>, limit=<n>.
func (h *AdminHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET requests are allowed")
		return
	}

	f := store.BlockFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		IP:         r.URL.Query().Get("ip"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	recs, err := h.blocks.List(r.Context(), f)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to list block records")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"blocks": recs, "count": len(recs)})
}

// unblockRequest is the body of POST /admin/ratelimit/unblock.
type unblockRequest struct {
	IP   string `json:"ip"`
	Note string `json:"note,omitempty"`
}

// Unblock handles POST /admin/ratelimit/unblock. Idempotent: unblocking an
// unknown or already-inactive IP succeeds and reports changed=false.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are allowed")
		return
	}

	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.IP == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "ip is required")
		return
	}

	note := req.Note
	if note == "" {
		note = "manual unblock"
	}
	if err := h.engine.Unblock(r.Context(), req.IP, note); err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to unblock")
		return
	}

	rec, err := h.blocks.Find(r.Context(), req.IP)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to read block record")
		return
	}
	resp := map[string]any{"ip": req.IP, "active": false}
	if rec != nil {
		resp["record"] = rec
	}
	sendJSON(w, http.StatusOK, resp)
}

// trustRequest is the body of POST /admin/ratelimit/trusted.
type trustRequest struct {
	IP          string `json:"ip"`
	Description string `json:"description,omitempty"`
}

// Trusted handles GET (list) and POST (upsert) on /admin/ratelimit/trusted.
// Adding an entry invalidates the trust-list cache so it takes effect
// without waiting out the TTL.
func (h *AdminHandler) Trusted(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := h.trusted.List(r.Context())
		if err != nil {
			sendError(w, http.StatusInternalServerError, "store_error", "Failed to list trusted entries")
			return
		}
		sendJSON(w, http.StatusOK, map[string]any{"trusted": entries, "count": len(entries)})

	case http.MethodPost:
		var req trustRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
			return
		}
		if req.IP == "" {
			sendError(w, http.StatusBadRequest, "invalid_request", "ip is required")
			return
		}
		if err := h.trusted.Upsert(r.Context(), req.IP, req.Description); err != nil {
			sendError(w, http.StatusInternalServerError, "store_error", "Failed to upsert trusted entry")
			return
		}
		if h.trustList != nil {
			h.trustList.Invalidate(r.Context())
		}
		sendJSON(w, http.StatusOK, map[string]any{"ip": req.IP, "trusted": true})

	default:
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET and POST requests are allowed")
	}
}

// ViolationSummary handles GET /admin/ratelimit/violations/summary.
// Query parameters: hours=<n> lookback window (default 24), top=<n> offender
// count (default 10).
func (h *AdminHandler) ViolationSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET requests are allowed")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "invalid_request", "hours must be a positive integer")
			return
		}
		hours = n
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

	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	total, err := h.violations.CountSince(r.Context(), since)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to count violations")
		return
	}
	offenders, err := h.violations.TopOffenders(r.Context(), since, top)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to aggregate offenders")
		return
	}
	byClass, err := h.violations.CountByClass(r.Context(), since)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "store_error", "Failed to aggregate classes")
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"since":         since.UTC().Format(time.RFC3339),
		"total":         total,
		"top_offenders": offenders,
		"by_class":      byClass,
	})
}

// Cleanup handles POST /admin/ratelimit/cleanup: one maintenance pass.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are allowed")
		return
	}
	if h.janitor == nil {
		sendError(w, http.StatusServiceUnavailable, "not_configured", "No janitor configured")
		return
	}
	sendJSON(w, http.StatusOK, h.janitor.CleanupExpired(r.Context()))
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, ErrorResponse{Error: code, Message: message})
}
