package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/payload-core/internal/audit"
	"github.com/nerrad567/payload-core/internal/camera"
)

const (
	auditSource       = "api"
	auditWriteTimeout = 5 * time.Second
)

// serveAudited runs req like serve, then appends the outcome to the audit
// trail. An audit write failure is logged and does not change the reply.
func (s *Server) serveAudited(w http.ResponseWriter, r *http.Request, req camera.Request, action, target string, details map[string]any) {
	resp, err := s.do(r.Context(), req)
	s.recordAudit(r, action, target, details, err)
	if err != nil {
		writeCameraError(w, err)
		return
	}
	if resp == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recordAudit(r *http.Request, action, target string, details map[string]any, opErr error) {
	if s.audit == nil {
		return
	}
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return
	}

	entry := &audit.Entry{
		Action:  action,
		Target:  target,
		Subject: claims.Subject,
		Role:    string(claims.Role),
		Source:  auditSource,
		Outcome: audit.OutcomeOK,
		Details: details,
	}
	if opErr != nil {
		entry.Outcome = audit.OutcomeFailed
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		entry.Details["error"] = opErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action", action, "error", err)
	}
}

// handleListAudit returns the operator audit trail, most recent first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{Action: q.Get("action"), Subject: q.Get("subject")}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	list, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit trail failed", "error", err)
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
