package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OperatorHeader carries the identity recorded against operator actions
const OperatorHeader = "X-Operator-ID"

// OperatorAuth guards the review and stats API. It accepts either the shared
// bearer token, with the operator named in X-Operator-ID, or an operator JWT
// whose subject names the operator.
type OperatorAuth struct {
	token    string
	verifier *OperatorTokenVerifier
	logger   *zap.Logger
}

// NewOperatorAuth creates the operator authenticator. With an empty token and
// no verifier every request is rejected.
func NewOperatorAuth(token string, logger *zap.Logger) *OperatorAuth {
	return &OperatorAuth{token: token, logger: logger}
}

// WithTokenVerifier also accepts operator JWTs checked by v
func (a *OperatorAuth) WithTokenVerifier(v *OperatorTokenVerifier) *OperatorAuth {
	a.verifier = v
	return a
}

// Middleware authenticates the request and puts the operator in the context
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, ok := a.authenticate(r)
		if !ok {
			a.logger.Warn("Unauthorized operator request",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="reconciliation"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"code":"AUTH_INVALID","error":"invalid authentication"}`))
			return
		}

		ctx := r.Context()
		if operator != "" {
			ctx = WithOperator(ctx, operator)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *OperatorAuth) authenticate(r *http.Request) (string, bool) {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || got == "" {
		return "", false
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) == 1 {
		return strings.TrimSpace(r.Header.Get(OperatorHeader)), true
	}
	if a.verifier == nil {
		return "", false
	}
	claims, err := a.verifier.Verify(got)
	if err != nil {
		a.logger.Debug("Operator token rejected", zap.Error(err))
		return "", false
	}
	return claims.Subject, true
}

// RequestID tags each request with X-Request-ID, generating one when absent
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}
