package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

// SandboxServer exposes messages captured by the sandbox transport
type SandboxServer struct {
	store *transport.SandboxStore
}

// NewSandboxServer creates a new sandbox server
func NewSandboxServer(store *transport.SandboxStore) *SandboxServer {
	return &SandboxServer{store: store}
}

// RegisterRoutes registers sandbox API routes
func (s *SandboxServer) RegisterRoutes(r chi.Router) {
	r.Route("/sandbox", func(r chi.Router) {
		r.Get("/messages", s.handleList)
		r.Delete("/messages", s.handleClear)
		r.Get("/stats", s.handleStats)
	})
}

// SandboxListResponse is the response for GET /api/v1/sandbox/messages
type SandboxListResponse struct {
	Messages []*transport.Captured `json:"messages"`
	Total    int                   `json:"total"`
}

// handleList handles GET /api/v1/sandbox/messages, newest first
func (s *SandboxServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, 1000)
	}

	messages, err := s.store.List(r.Context(), limit)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}
	if to := r.URL.Query().Get("to"); to != "" {
		filtered := messages[:0]
		for _, m := range messages {
			if m.To == to {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}

	sendJSON(w, http.StatusOK, SandboxListResponse{Messages: messages, Total: len(messages)})
}

// handleClear handles DELETE /api/v1/sandbox/messages. older_than is a
// duration such as 72h; without it everything is removed.
func (s *SandboxServer) handleClear(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(time.Second)
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			sendError(w, http.StatusBadRequest, "Invalid older_than")
			return
		}
		cutoff = time.Now().Add(-d)
	}

	n, err := s.store.Clear(r.Context(), cutoff)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to clear messages")
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleStats handles GET /api/v1/sandbox/stats
func (s *SandboxServer) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to count messages")
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"total": n})
}
