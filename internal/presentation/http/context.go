package http

import (
	"context"

	"funblink/app/internal/domain/account"
)

type contextKey string

const (
	requestIDContextKey contextKey = "funblink/request-id"
	ownerContextKey     contextKey = "funblink/owner"
	originContextKey    contextKey = "funblink/origin"
)

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// OwnerFromContext returns the owner authenticated by the signature middleware.
func OwnerFromContext(ctx context.Context) (account.Pubkey, bool) {
	if ctx == nil {
		return account.Pubkey{}, false
	}
	owner, ok := ctx.Value(ownerContextKey).(account.Pubkey)
	return owner, ok
}

func originFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(originContextKey).(string); ok {
		return value
	}
	return ""
}
