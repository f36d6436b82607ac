package middleware

import (
	"context"
)

type contextKey string

const (
	operatorIDKey contextKey = "operator_id"
	requestIDKey  contextKey = "request_id"
)

// WithOperator returns ctx carrying the operator identity
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey, operatorID)
}

// OperatorFromContext returns the authenticated operator, or "" when the
// request carried no X-Operator-ID
func OperatorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operatorIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDFromContext returns the request ID added by RequestID
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
