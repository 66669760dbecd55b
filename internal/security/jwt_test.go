package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playrank/playrank/internal/types"
)

var testSecret = []byte("test-secret-key")

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("user-1", types.RoleRegular, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("user id = %q, want user-1", claims.UserID)
	}
	if claims.Role != types.RoleRegular {
		t.Errorf("role = %q, want %q", claims.Role, types.RoleRegular)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Error("expiry not after issue time")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", types.RoleAdmin, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken(token, []byte("other-secret")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	token, err := GenerateToken("user-1", types.RoleRegular, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken(token, testSecret); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	if _, err := ValidateToken("not.a.token", testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func claimsEcho(t *testing.T) (http.Handler, *Claims) {
	t.Helper()
	captured := &Claims{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r)
		if err != nil {
			t.Errorf("GetClaims: %v", err)
			return
		}
		*captured = *claims
	}), captured
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	token, err := GenerateToken("user-7", types.RoleAdmin, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	inner, captured := claimsEcho(t)
	handler := AuthMiddleware(testSecret)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured.UserID != "user-7" || captured.Role != types.RoleAdmin {
		t.Errorf("claims = %+v", captured)
	}
}

func TestAuthMiddlewareRejectsMissingAndMalformed(t *testing.T) {
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without valid token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	inner, captured := claimsEcho(t)
	handler := AuthMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-User", "alice")
	req.Header.Set("X-Dev-Role", string(types.RoleAdmin))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.UserID != "alice" || captured.Role != types.RoleAdmin {
		t.Errorf("claims = %+v, want alice/admin", captured)
	}

	// Defaults when no headers are sent.
	inner2, captured2 := claimsEcho(t)
	handler2 := AuthMiddleware(nil)(inner2)
	handler2.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if captured2.UserID != "dev-user" || captured2.Role != types.RoleRegular {
		t.Errorf("default claims = %+v", captured2)
	}
}

func TestGetClaimsWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := GetClaims(req); !errors.Is(err, ErrMissingToken) {
		t.Errorf("err = %v, want ErrMissingToken", err)
	}
}

func TestGetJWTSecret(t *testing.T) {
	t.Setenv("PLAYRANK_JWT_SECRET", "")
	if s := GetJWTSecret(); s != nil {
		t.Errorf("empty env: secret = %q, want nil", s)
	}
	t.Setenv("PLAYRANK_JWT_SECRET", "super-secret")
	if s := GetJWTSecret(); string(s) != "super-secret" {
		t.Errorf("secret = %q", s)
	}
}
