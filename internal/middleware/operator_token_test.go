package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIssuer = "https://id.hillcrest.example"

func newSigningKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func signOperatorToken(t *testing.T, key *rsa.PrivateKey, claims OperatorClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func operatorClaims(subject, issuer string, expires time.Time) OperatorClaims {
	return OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(expires.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Name: "Jane Bursar",
	}
}

func TestOperatorTokenVerifier(t *testing.T) {
	key, publicPEM := newSigningKey(t)
	otherKey, _ := newSigningKey(t)
	verifier, err := NewOperatorTokenVerifier(publicPEM, testIssuer)
	require.NoError(t, err)
	later := time.Now().Add(time.Hour)

	noExpiry := operatorClaims("jane", testIssuer, later)
	noExpiry.ExpiresAt = nil

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims("jane", testIssuer, later)).SignedString(publicPEM)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantSub string
	}{
		{"valid", signOperatorToken(t, key, operatorClaims("jane", testIssuer, later)), "jane"},
		{"expired", signOperatorToken(t, key, operatorClaims("jane", testIssuer, time.Now().Add(-time.Minute))), ""},
		{"no expiry", signOperatorToken(t, key, noExpiry), ""},
		{"wrong issuer", signOperatorToken(t, key, operatorClaims("jane", "https://elsewhere", later)), ""},
		{"signed by another key", signOperatorToken(t, otherKey, operatorClaims("jane", testIssuer, later)), ""},
		{"no subject", signOperatorToken(t, key, operatorClaims("", testIssuer, later)), ""},
		{"HMAC keyed with the public key", hs256, ""},
		{"garbage", "not-a-jwt", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.Verify(tt.token)
			if tt.wantSub == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, "Jane Bursar", claims.Name)
		})
	}
}

func TestNewOperatorTokenVerifier_RejectsBadKey(t *testing.T) {
	_, err := NewOperatorTokenVerifier([]byte("not a key"), "")
	assert.Error(t, err)
}

func TestOperatorAuth_JWTSubjectIsOperator(t *testing.T) {
	key, publicPEM := newSigningKey(t)
	verifier, err := NewOperatorTokenVerifier(publicPEM, "")
	require.NoError(t, err)

	var seen string
	h := NewOperatorAuth("", zap.NewNop()).WithTokenVerifier(verifier).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = OperatorFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/review", nil)
	req.Header.Set("Authorization", "Bearer "+signOperatorToken(t, key, operatorClaims("jane", testIssuer, time.Now().Add(time.Hour))))
	req.Header.Set(OperatorHeader, "mallory")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "jane", seen, "the token subject wins over the header")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/review", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no shared token configured")
}
