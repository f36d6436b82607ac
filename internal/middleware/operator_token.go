package middleware

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are the claims read from an operator token. The subject is
// the operator recorded against review actions.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// OperatorTokenVerifier validates RS256 operator tokens issued by an external
// identity provider
type OperatorTokenVerifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	now       func() time.Time
}

// NewOperatorTokenVerifier parses a PEM encoded RSA public key. An empty
// issuer accepts any issuer.
func NewOperatorTokenVerifier(publicKeyPEM []byte, issuer string) (*OperatorTokenVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse operator token public key: %w", err)
	}
	return &OperatorTokenVerifier{publicKey: key, issuer: issuer, now: time.Now}, nil
}

// Verify checks the signature, expiry and issuer and returns the claims
func (v *OperatorTokenVerifier) Verify(tokenString string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid operator token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("operator token has no subject")
	}
	return claims, nil
}
