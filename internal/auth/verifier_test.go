package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-signing-key"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func baseClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   sub,
		"email": "Person@Example.com",
		"exp":   now.Add(10 * time.Minute).Unix(),
		"iat":   now.Unix(),
	}
}

func newSecretVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), VerifierConfig{Secret: testSecret})
	require.NoError(t, err)
	return v
}

func TestVerifier_HS256(t *testing.T) {
	v := newSecretVerifier(t)
	id := uuid.New()

	claims := baseClaims(id.String())
	claims["email_verified"] = true

	identity, err := v.Verify(context.Background(), signHS256(t, claims))
	require.NoError(t, err)
	assert.Equal(t, id, identity.ID)
	assert.Equal(t, "person@example.com", identity.Email)
	assert.True(t, identity.EmailVerified)
}

func TestVerifier_EmailVerifiedSources(t *testing.T) {
	v := newSecretVerifier(t)

	tests := []struct {
		name  string
		extra jwt.MapClaims
		want  bool
	}{
		{"no claim", jwt.MapClaims{}, false},
		{"top level false", jwt.MapClaims{"email_verified": false}, false},
		{"user metadata", jwt.MapClaims{"user_metadata": map[string]any{"email_verified": true}}, true},
		{"confirmed at", jwt.MapClaims{"email_confirmed_at": "2024-01-02T03:04:05Z"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims(uuid.NewString())
			for k, val := range tt.extra {
				claims[k] = val
			}
			identity, err := v.Verify(context.Background(), signHS256(t, claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, identity.EmailVerified)
		})
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v := newSecretVerifier(t)

	expired := baseClaims(uuid.NewString())
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	noExp := baseClaims(uuid.NewString())
	delete(noExp, "exp")

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims(uuid.NewString()))
	wrongKeyToken, err := wrongKey.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", signHS256(t, expired)},
		{"missing exp", signHS256(t, noExp)},
		{"wrong key", wrongKeyToken},
		{"non uuid subject", signHS256(t, baseClaims("user-123"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			require.Error(t, err)
			assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
			assert.Equal(t, domain.ReasonUnauthenticated, domain.ErrorReason(err))
		})
	}
}

func TestVerifier_IssuerAndAudience(t *testing.T) {
	v, err := NewVerifier(context.Background(), VerifierConfig{
		Secret:   testSecret,
		Issuer:   "https://auth.example.com",
		Audience: "authenticated",
	})
	require.NoError(t, err)

	good := baseClaims(uuid.NewString())
	good["iss"] = "https://auth.example.com"
	good["aud"] = "authenticated"
	_, err = v.Verify(context.Background(), signHS256(t, good))
	assert.NoError(t, err)

	bad := baseClaims(uuid.NewString())
	bad["iss"] = "https://evil.example.com"
	bad["aud"] = "authenticated"
	_, err = v.Verify(context.Background(), signHS256(t, bad))
	assert.Error(t, err)
}

func TestVerifier_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v, err := NewVerifier(ctx, VerifierConfig{JWKSURL: server.URL, Secret: "ignored"})
	require.NoError(t, err)

	id := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims(id.String()))
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, id, identity.ID)

	// HS256 tokens are refused once JWKS mode is active.
	_, err = v.Verify(context.Background(), signHS256(t, baseClaims(id.String())))
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = BearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = BearerToken("Bearer   ")
	assert.ErrorIs(t, err, ErrMalformedToken)
}
