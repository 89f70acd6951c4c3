// Package auth carries the caller identity through request context.
// Authentication itself happens upstream (session gateway, out of scope);
// this package only trusts the identity headers that gateway injects.
package auth

import (
	"net/http"

	resp "github.com/ashiqtasdid/pegasus-interface-sub000/response"
)

type contextKey string

// Context is the request-context key holding *Claims.
const Context contextKey = "auth"

// Claims identifies the caller for ownership and admin checks.
type Claims struct {
	ID    string
	Admin bool
}

const (
	userHeader  = "X-Pegasus-User"
	adminHeader = "X-Pegasus-Admin"
)

// Middleware extracts the gateway-injected identity. Requests without one
// are rejected before reaching any handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(userHeader)
		if id == "" {
			resp.WriteError(w, r, resp.ErrUnauthorized().AddMessages("No caller identity present"))
			return
		}
		claims := &Claims{
			ID:    id,
			Admin: r.Header.Get(adminHeader) == "true",
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
