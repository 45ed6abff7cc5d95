package tenant

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware scopes each request to the tenant named by its Authorization
// header. Requests without a valid token get 401. A nil resolver passes
// requests through unscoped.
func Middleware(r *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx, err := r.Context(req.Context(), req.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := "invalid token"
	switch {
	case errors.Is(err, ErrMissingToken):
		msg = "missing bearer token"
	case errors.Is(err, ErrTokenExpired):
		msg = "token expired"
	case errors.Is(err, ErrMissingClaim):
		msg = "token has no tenant claim"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="querycache"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
