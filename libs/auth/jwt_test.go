package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{
		Sub:     "user-1",
		CoachID: "coach-1",
		Role:    RoleCoach,
		Iat:     time.Now().Unix(),
		Exp:     time.Now().Add(1 * time.Hour).Unix(),
	}
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.CoachID != claims.CoachID || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "user-1", Role: RoleClient, Exp: time.Now().Add(-time.Minute).Unix()}, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRS256VerifyViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	claims := Claims{
		Sub:  "user-2",
		Role: RoleAdmin,
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := signRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 sign failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(jwkSet{Keys: []jwk{{
			Kty: "RSA",
			Kid: "kid-1",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
		}}})
	}))
	defer srv.Close()

	v := Verifier{JWKS: NewJWKSClient(srv.URL, time.Minute)}
	parsed, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	hs, _ := SignHS256(claims, "secret")
	if _, err := v.Verify(context.Background(), hs); err == nil {
		t.Fatal("HS256 must be rejected when no secret is configured")
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc.def.ghi"); !ok || tok != "abc.def.ghi" {
		t.Fatalf("unexpected %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic xyz"); ok {
		t.Fatal("basic scheme must be rejected")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Fatal("empty token must be rejected")
	}
}

func TestRequireCoachAccess(t *testing.T) {
	if _, err := RequireCoachAccess(context.Background(), "coach-1"); !apperr.IsCode(err, apperr.Unauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	coach := ContextWithIdentity(context.Background(), Identity{UserID: "u1", CoachID: "coach-1", Role: RoleCoach})
	if _, err := RequireCoachAccess(coach, "coach-1"); err != nil {
		t.Fatalf("own coach should pass: %v", err)
	}
	if _, err := RequireCoachAccess(coach, "coach-2"); !apperr.IsCode(err, apperr.Forbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}

	client := ContextWithIdentity(context.Background(), Identity{UserID: "u2", CoachID: "coach-1", Role: RoleClient})
	if _, err := RequireCoachAccess(client, "coach-1"); !apperr.IsCode(err, apperr.Forbidden) {
		t.Fatalf("client must not manage coach data, got %v", err)
	}

	admin := ContextWithIdentity(context.Background(), Identity{UserID: "a", Role: RoleAdmin})
	if _, err := RequireCoachAccess(admin, "coach-9"); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}

func TestWithIdentityReadsHeaders(t *testing.T) {
	var got Identity
	h := WithIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SetHeaders(req.Header, &Claims{Sub: "u1", CoachID: "c1", Role: RoleCoach})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got.UserID != "u1" || got.CoachID != "c1" || got.Role != RoleCoach {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	header := map[string]string{
		"alg": "RS256",
		"typ": "JWT",
	}
	if kid != "" {
		header["kid"] = kid
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	hash := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
