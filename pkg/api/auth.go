package api

import (
	"net/http"
	"strings"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/",
	"/health",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AuthMiddleware verifies the bearer token and attaches the principal
// to the request context. A missing Authorization header is 401; a
// header carrying an empty token is 403.
func AuthMiddleware(verifier *keystore.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			scheme, token, _ := strings.Cut(header, " ")
			if !strings.EqualFold(scheme, "Bearer") {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if strings.TrimSpace(token) == "" {
				WriteForbidden(w, "Empty bearer token")
				return
			}

			principal, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
