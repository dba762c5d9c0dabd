package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/taskpulse/internal/auth"
)

// CredentialSource pulls a raw credential out of a request. Empty means not present.
type CredentialSource func(r *http.Request) string

// FromQuery reads the credential from a query parameter. Browsers cannot set headers on a
// WebSocket handshake, so this is the main source.
func FromQuery(param string) CredentialSource {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

func FromCookie(name string) CredentialSource {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return cookie.Value
	}
}

var errNoCredential = errors.New("no credential presented")

// NewAuthMiddleware resolves the caller's identity from the first source that yields a
// credential. The outcome is stored on the request metadata and the request always proceeds.
func NewAuthMiddleware(logger *slog.Logger, verifier auth.Verifier, sources ...CredentialSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Auth middleware could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			var credential string
			for _, source := range sources {
				if credential = source(r); credential != "" {
					break
				}
			}
			if credential == "" {
				logger.Warn("Credential missing in request", slog.String("ip", reqMeta.IP))
				reqMeta.AuthErr = errNoCredential
				next.ServeHTTP(w, r)
				return
			}

			ident, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				logger.Warn("Invalid credential presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				reqMeta.AuthErr = err
				next.ServeHTTP(w, r)
				return
			}
			reqMeta.Identity = ident
			next.ServeHTTP(w, r)
		})
	}
}
