package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/playrank/playrank/internal/types"
)

// handleActivityTypes serves GET (list) and admin POST (create) on
// /activity-types.
func (s *Server) handleActivityTypes(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := s.store.ListActivityTypes(r.Context())
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if claims.Role != types.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		var at types.ActivityType
		if err := decodeBody(r, &at); err != nil {
			writeKindError(w, err)
			return
		}
		if at.Name == "" {
			writeKindError(w, types.Validationf("name", "required"))
			return
		}
		if at.ID == "" {
			at.ID = uuid.NewString()
		}
		if at.ELOSettings == (types.ELOSettings{}) && s.settings != nil {
			at.ELOSettings = s.settings.For(at.ID)
		}
		if err := s.store.CreateActivityType(r.Context(), &at); err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, at)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleUsers serves admin POST /users for seeding identities.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if claims.Role != types.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	var u types.User
	if err := decodeBody(r, &u); err != nil {
		writeKindError(w, err)
		return
	}
	if u.Username == "" {
		writeKindError(w, types.Validationf("username", "required"))
		return
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = types.RoleRegular
	}
	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}
