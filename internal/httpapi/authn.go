package httpapi

import (
	"net/http"
	"strings"

	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireSession decodes the bearer access token and stores the session in
// the request context. A missing or malformed header is treated as a
// malformed token so the rejection is audited like any other.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get(authHeader))
		s, err := a.deps.Guard.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithSession(r.Context(), s)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func sessionFrom(r *http.Request) auth.Session {
	s, _ := auth.SessionFromContext(r.Context())
	return s
}
