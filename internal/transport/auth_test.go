package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/config"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "ledgerflow",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user:1",
		"email": "user@example.com",
		"iss":   "https://auth.example.com",
		"aud":   "ledgerflow",
		"exp":   jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

// --- JWKSClient tests ---

func TestJWKSClient_GetKey_RSA(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())
	key, err := client.GetKey("rsa-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	pubKey, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if pubKey.N.Cmp(rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus mismatch")
	}
}

func TestJWKSClient_GetKey_EC(t *testing.T) {
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))

	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())
	key, err := client.GetKey("ec-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if _, ok := key.(*ecdsa.PublicKey); !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", key)
	}
}

func TestJWKSClient_GetKey_unknown(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())
	if _, err := client.GetKey("no-such-key"); err == nil {
		t.Fatal("GetKey with unknown kid should return error")
	}
}

func TestJWKSClient_cachesKeys(t *testing.T) {
	rsaKey := generateRSAKey(t)
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey)},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewJWKSClient(srv.URL, 1*time.Hour, zap.NewNop())
	for range 3 {
		if _, err := client.GetKey("rsa-key-1"); err != nil {
			t.Fatalf("GetKey: %v", err)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}
}

// --- JWTAuthenticator tests ---

func authTestHandler(t *testing.T, cfg config.IdentityConfig, jwks *JWKSClient) http.Handler {
	t.Helper()
	mw := JWTAuthenticator(cfg, jwks)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil {
			t.Error("claims not found in context")
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuthenticator_valid(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))
	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())

	token := signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-key-1", validClaims())

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	authTestHandler(t, testIdentityCfg(), client).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	rsaKey := generateRSAKey(t)
	otherKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))
	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())
	handler := authTestHandler(t, testIdentityCfg(), client)

	expiredClaims := validClaims()
	expiredClaims["exp"] = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://imposter.example.com"
	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"expired", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-key-1", expiredClaims)},
		{"wrong issuer", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-key-1", wrongIssuer)},
		{"wrong audience", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-key-1", wrongAudience)},
		{"wrong signature", "Bearer " + signJWT(t, otherKey, jwt.SigningMethodRS256, "rsa-key-1", validClaims())},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestJWTAuthenticator_disallowedAlgorithm(t *testing.T) {
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))
	client := NewJWKSClient(jwks.URL, 1*time.Hour, zap.NewNop())

	cfg := testIdentityCfg()
	cfg.Algorithms = []string{"RS256"}
	handler := authTestHandler(t, cfg, client)

	token := signJWT(t, ecKey, jwt.SigningMethodES256, "ec-key-1", validClaims())
	req := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
