package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/facility-review-core/internal/audit"
)

// handleListAuditLogs returns the signed-in admin's audit trail, newest first.
// Filters: action, entity_type, entity_id. Paging: limit (default 50, max 200)
// and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, ErrInternalServerError.withMessage("audit logging not configured"))
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		AdminID:    principal(r).AdminID,
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, ErrValueError.withMessage(p.name+" should be a valid integer"))
			return
		}
		*p.dst = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Data retrieved successfully", result)
}
