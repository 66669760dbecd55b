package api

import (
	"net/http"
	"strings"

	"github.com/playrank/playrank/internal/activities"
	"github.com/playrank/playrank/internal/elo"
	"github.com/playrank/playrank/internal/types"
)

// handleActivities serves POST /activities.
func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var req activities.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeKindError(w, err)
		return
	}
	activity, err := s.activities.Create(r.Context(), claims.UserID, req)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, activity)
}

// handleActivityDetail routes /activities/{id}[/...] by trailing
// segments.
func (s *Server) handleActivityDetail(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/activities/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "activity id required")
		return
	}
	activityID := parts[0]

	switch {
	case len(parts) == 1:
		s.activityByID(w, r, claims.UserID, claims.Role, activityID)
	case len(parts) == 2 && parts[1] == "join" && r.Method == http.MethodPost:
		p, err := s.activities.Join(r.Context(), activityID, claims.UserID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	case len(parts) == 2 && parts[1] == "leave" && r.Method == http.MethodPost:
		if err := s.activities.Leave(r.Context(), activityID, claims.UserID); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"left": true})
	case len(parts) == 2 && parts[1] == "participants" && r.Method == http.MethodGet:
		ps, err := s.activities.Participants(r.Context(), activityID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	case len(parts) == 4 && parts[1] == "participants" && parts[3] == "respond" && r.Method == http.MethodPut:
		var req struct {
			Action activities.RespondAction `json:"action"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeKindError(w, err)
			return
		}
		if err := s.activities.Respond(r.Context(), activityID, parts[2], claims.UserID, req.Action); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"responded": true})
	case len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost:
		var req elo.CompleteRequest
		if err := decodeBody(r, &req); err != nil {
			writeKindError(w, err)
			return
		}
		result, err := s.orch.Complete(r.Context(), activityID, claims.UserID, claims.Role, req)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case len(parts) == 2 && parts[1] == "elo-status" && r.Method == http.MethodGet:
		status, err := s.locks.Get(r.Context(), activityID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case len(parts) == 2 && parts[1] == "reprocess-elo" && r.Method == http.MethodPost:
		if err := s.orch.Reprocess(r.Context(), activityID, claims.UserID, claims.Role); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"reprocessed": true})
	case len(parts) == 2 && parts[1] == "balance-teams" && r.Method == http.MethodPost:
		assignment, err := s.orch.BalanceTeams(r.Context(), activityID, claims.UserID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assignment)
	default:
		writeError(w, http.StatusNotFound, "unknown activity endpoint")
	}
}

func (s *Server) activityByID(w http.ResponseWriter, r *http.Request, userID string, role types.Role, activityID string) {
	switch r.Method {
	case http.MethodGet:
		activity, err := s.activities.Get(r.Context(), activityID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
	case http.MethodPut:
		var req activities.UpdateRequest
		if err := decodeBody(r, &req); err != nil {
			writeKindError(w, err)
			return
		}
		activity, err := s.activities.Update(r.Context(), activityID, userID, req)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
	case http.MethodDelete:
		if err := s.activities.Cancel(r.Context(), activityID, userID, role); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
