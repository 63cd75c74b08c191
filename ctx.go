package auth

import (
	"context"
)

var identityCtxKey = &contextKey{"identity"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithIdentityContext sets the authenticated identity in the context
func WithIdentityContext(ctx context.Context, identity int64) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the identity set by WithIdentityContext
func IdentityFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(identityCtxKey).(int64)
	return id, ok && id > 0
}

// WithClaimsContext sets the validated token claims in the context
func WithClaimsContext(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts the claims from the standard context
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsCtxKey).(*TokenClaims)
	return claims, ok && claims != nil
}
