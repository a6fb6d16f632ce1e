package middleware

import (
	"net/http"
	"slices"
)

// CORS adds the cross-origin headers browsers need to call the API
type CORS struct {
	allowedOrigins []string
}

// NewCORS creates a new CORS middleware
func NewCORS(allowedOrigins []string) *CORS {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORS{allowedOrigins: allowedOrigins}
}

func (c *CORS) origin(r *http.Request) string {
	if slices.Contains(c.allowedOrigins, "*") {
		return "*"
	}
	origin := r.Header.Get("Origin")
	if slices.Contains(c.allowedOrigins, origin) {
		return origin
	}
	return ""
}

// Handle wraps an HTTP handler with CORS support
func (c *CORS) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := c.origin(r); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

		// preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
