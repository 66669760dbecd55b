package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/playrank/playrank/internal/security"
	"github.com/playrank/playrank/internal/types"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeKindError maps a service error to its HTTP status and JSON body.
func writeKindError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	body := map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	}
	var te *types.Error
	if errors.As(err, &te) && te.Field != "" {
		body["field"] = te.Field
	}
	writeJSON(w, types.HTTPStatus(kind), body)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return types.Validationf("body", "invalid JSON: %v", err)
	}
	return nil
}

// caller extracts the authenticated user from the request, writing a
// 401 on failure.
func caller(w http.ResponseWriter, r *http.Request) (*security.Claims, bool) {
	claims, err := security.GetClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return claims, true
}
