package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
)

// handleListAudit returns paginated audit events with optional filters.
//
// Query parameters:
//   - event_type: LOGIN_ATTEMPT, PERMISSION_CHANGE, UNAUTHORIZED_ACCESS, ANOMALY
//   - severity: INFO, WARN, ERROR, CRITICAL
//   - user: exact user email
//   - since: RFC 3339 lower bound on the event time
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit history not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Kind:     audit.Kind(q.Get("event_type")),
		Severity: audit.Severity(q.Get("severity")),
		User:     q.Get("user"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit events", "error", err)
		writeInternalError(w, "failed to list audit events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
