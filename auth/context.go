package auth

import "context"

// WithClaims returns ctx carrying the claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, Context, claims)
}

// FromContext returns the claims, or nil when the middleware did not run.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(Context).(*Claims)
	return claims
}
