package api

import (
	"net/http"
	"strings"

	"github.com/playrank/playrank/internal/skills"
)

// handleRatingSubmit serves POST /skill-ratings/submit.
func (s *Server) handleRatingSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var req skills.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeKindError(w, err)
		return
	}
	// The author is always the authenticated caller.
	req.RatingUserID = claims.UserID
	rating, err := s.ratings.Submit(r.Context(), req)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

// handleRatingDetail routes /skill-ratings/{id}, /skill-ratings/user/{userId}
// and /skill-ratings/activity/{activityId}.
func (s *Server) handleRatingDetail(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/skill-ratings/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "rating id required")
		return
	}

	switch {
	case parts[0] == "user" && len(parts) == 2 && r.Method == http.MethodGet:
		s.userSkillProfile(w, r, parts[1])
	case parts[0] == "activity" && len(parts) == 2 && r.Method == http.MethodGet:
		allowed, err := s.activities.IsParticipantOrCreator(r.Context(), parts[1], claims.UserID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "only participants may view activity ratings")
			return
		}
		ratings, err := s.ratings.ActivityRatings(r.Context(), parts[1])
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ratings)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var req skills.UpdateRequest
		if err := decodeBody(r, &req); err != nil {
			writeKindError(w, err)
			return
		}
		rating, err := s.ratings.Update(r.Context(), parts[0], claims.UserID, req)
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rating)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.ratings.Delete(r.Context(), parts[0], claims.UserID, claims.Role); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		writeError(w, http.StatusNotFound, "unknown skill-rating endpoint")
	}
}

func (s *Server) userSkillProfile(w http.ResponseWriter, r *http.Request, userID string) {
	summaries, err := s.aggregator.Summaries(r.Context(), userID)
	if err != nil {
		writeKindError(w, err)
		return
	}
	recent, err := s.ratings.RecentCommentedRatings(r.Context(), userID, 20)
	if err != nil {
		writeKindError(w, err)
		return
	}
	findings, err := s.ratings.DetectSuspiciousPatterns(r.Context(), userID)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summaries":          summaries,
		"recentRatings":      recent,
		"suspiciousPatterns": findings,
	})
}
