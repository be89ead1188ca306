package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "auth-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestAuth(enabled bool) *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    enabled,
		HMACSecret: testSecret,
		Issuer:     "ownersale-test",
		Audience:   "ownersale",
	}, slog.Default())
}

func protected(t *testing.T, wantCaller common.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("handler reached without caller in context")
		}
		if caller != wantCaller {
			t.Fatalf("caller = %s, want %s", caller.Hex(), wantCaller.Hex())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := signToken(t, jwt.MapClaims{
		"sub":   caller.Hex(),
		"iss":   "ownersale-test",
		"aud":   "ownersale",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "sale:admin sale:bid",
	})

	handler := newTestAuth(true).Middleware(ScopeSaleAdmin)(protected(t, caller))
	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
}

func TestAuthenticatorRejectsMissingScope(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "0x1111111111111111111111111111111111111111",
		"iss":   "ownersale-test",
		"aud":   "ownersale",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "sale:bid",
	})

	handler := newTestAuth(true).Middleware(ScopeSaleAdmin)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.Code)
	}
}

func TestAuthenticatorRejectsBadSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "not-an-address",
		"iss":   "ownersale-test",
		"aud":   "ownersale",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "sale:admin",
	})

	handler := newTestAuth(true).Middleware(ScopeSaleAdmin)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.Code)
	}
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "0x1111111111111111111111111111111111111111",
		"iss":   "ownersale-test",
		"aud":   "ownersale",
		"exp":   time.Now().Add(-time.Hour).Unix(),
		"scope": "sale:admin",
	})

	handler := newTestAuth(true).Middleware(ScopeSaleAdmin)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.Code)
	}
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	handler := newTestAuth(true).Middleware(ScopeSaleAdmin)(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/sales", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.Code)
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	caller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	handler := newTestAuth(false).Middleware(ScopeSaleAdmin)(protected(t, caller))
	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set(headerCaller, caller.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
}
