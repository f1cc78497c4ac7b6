package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPasswordServiceHashAndVerifyRoundTrip(t *testing.T) {
	ps := NewPasswordService()
	hash, err := ps.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok, err := ps.VerifyPassword("hunter2", hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Error("expected the correct password to verify")
	}

	ok, err = ps.VerifyPassword("wrong", hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Error("expected an incorrect password to fail verification")
	}
}

func TestPasswordServiceProducesDistinctSaltsPerCall(t *testing.T) {
	ps := NewPasswordService()
	a, err := ps.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	b, err := ps.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if a == b {
		t.Error("expected distinct salts to produce distinct encoded hashes")
	}
}

func TestJWTServiceGenerateAndValidateRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	token, expiresIn, err := svc.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
	if expiresIn != time.Hour {
		t.Errorf("expected expiresIn of 1h, got %v", expiresIn)
	}
	if err := svc.ValidateToken(token); err != nil {
		t.Errorf("expected token to validate, got %v", err)
	}
}

func TestJWTServiceRejectsTokenFromDifferentSecret(t *testing.T) {
	a := NewJWTService("secret-a", time.Hour)
	b := NewJWTService("secret-b", time.Hour)

	token, _, err := a.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if err := b.ValidateToken(token); err == nil {
		t.Error("expected a token signed with a different secret to fail validation")
	}
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret", -time.Hour)
	token, _, err := svc.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if err := svc.ValidateToken(token); err == nil {
		t.Error("expected an already-expired token to fail validation")
	}
}

func TestJWTServiceRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	if err := svc.ValidateToken("not-a-real-token"); err == nil {
		t.Error("expected a malformed token string to fail validation")
	}
}

func TestAdminAuthLogin(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.AdminPassword = "correct-horse-battery-staple"
	auth, err := NewAdminAuth(cfg)
	if err != nil {
		t.Fatalf("NewAdminAuth failed: %v", err)
	}

	token, expiresIn, ok := auth.Login("correct-horse-battery-staple")
	if !ok || token == "" || expiresIn <= 0 {
		t.Fatalf("expected a successful login, got token=%q expiresIn=%v ok=%v", token, expiresIn, ok)
	}

	if _, _, ok := auth.Login("wrong-password"); ok {
		t.Error("expected login with the wrong password to fail")
	}
}

func TestAdminAuthRequireAuthPassThroughWhenDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.RequireAuth = false
	auth, err := NewAdminAuth(cfg)
	if err != nil {
		t.Fatalf("NewAdminAuth failed: %v", err)
	}

	called := false
	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected the inner handler to run when auth is not required")
	}
}

func TestAdminAuthRequireAuthGatesWhenEnabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.RequireAuth = true
	cfg.Security.AdminPassword = "correct-horse-battery-staple"
	cfg.Security.TokenSecret = "a-real-secret"
	auth, err := NewAdminAuth(cfg)
	if err != nil {
		t.Fatalf("NewAdminAuth failed: %v", err)
	}

	called := false
	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d (called=%v)", rec.Code, called)
	}

	token, _, ok := auth.Login("correct-horse-battery-staple")
	if !ok {
		t.Fatal("expected login to succeed")
	}

	called = false
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !called {
		t.Errorf("expected the inner handler to run with a valid bearer token, got status %d", rec.Code)
	}
}
