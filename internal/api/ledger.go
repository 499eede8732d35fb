package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/payload-core/internal/ledger"
)

// parseFilter reads ?status=&since=&limit=&offset= into a ledger filter.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{Status: q.Get("status")}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be RFC3339")
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

// ledgerAvailable writes 503 and returns false when no ledger is configured.
func (s *Server) ledgerAvailable(w http.ResponseWriter) bool {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "capture ledger not configured")
		return false
	}
	return true
}

// handleListCaptures returns a page of recorded captures.
func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	if !s.ledgerAvailable(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	list, err := s.ledger.ListCaptures(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list captures", "error", err)
		writeInternalError(w, "failed to list captures")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetCapture returns one capture by ID.
func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	if !s.ledgerAvailable(w) {
		return
	}
	id := chi.URLParam(r, "id")

	c, err := s.ledger.GetCapture(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeNotFound(w, "capture not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get capture", "id", id, "error", err)
		writeInternalError(w, "failed to get capture")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleListDownloads returns a page of recorded downloads.
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	if !s.ledgerAvailable(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	list, err := s.ledger.ListDownloads(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list downloads", "error", err)
		writeInternalError(w, "failed to list downloads")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
