package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/playrank/playrank/internal/delta"
	"github.com/playrank/playrank/internal/types"
)

// handleDeltaChanges serves GET /delta/changes. Poll responses must
// never be cached, and the adaptive interval rides on X-Poll-Interval.
func (s *Server) handleDeltaChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := delta.FetchRequest{
		UserID:     claims.UserID,
		ClientType: parseClientType(q.Get("clientType")),
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeKindError(w, types.Validationf("since", "invalid timestamp %q", v))
			return
		}
		req.Since = ts
	}
	if v := q.Get("entityType"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			class := types.EntityClass(strings.TrimSpace(raw))
			if !validClass(class) {
				writeKindError(w, types.Validationf("entityType", "unknown entity class %q", raw))
				return
			}
			req.EntityClasses = append(req.EntityClasses, class)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeKindError(w, types.Validationf("limit", "invalid limit %q", v))
			return
		}
		req.Limit = n
	}

	result, err := s.reader.FetchDeltas(r.Context(), req)
	if err != nil {
		writeKindError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("X-Poll-Interval", strconv.Itoa(result.RecommendedPollInterval))
	writeJSON(w, http.StatusOK, result)
}

// handleDeltaStatus serves GET /delta/status.
func (s *Server) handleDeltaStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	status, err := s.reader.FetchStatus(r.Context(), claims.UserID, parseClientType(r.URL.Query().Get("clientType")))
	if err != nil {
		writeKindError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, status)
}

// handleDeltaReset serves POST /delta/reset.
func (s *Server) handleDeltaReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		EntityType string `json:"entityType"`
		ClientType string `json:"clientType,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeKindError(w, err)
		return
	}
	if req.EntityType != "all" && !validClass(types.EntityClass(req.EntityType)) {
		writeKindError(w, types.Validationf("entityType", "unknown entity class %q", req.EntityType))
		return
	}
	cursor, err := s.cursors.ResetCursor(r.Context(), claims.UserID, req.EntityType, parseClientType(req.ClientType))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

func parseClientType(v string) types.ClientType {
	if types.ClientType(v) == types.ClientMobile {
		return types.ClientMobile
	}
	return types.ClientWeb
}

func validClass(class types.EntityClass) bool {
	for _, c := range types.TrackedClasses {
		if c == class {
			return true
		}
	}
	return false
}
