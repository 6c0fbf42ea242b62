package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   string // comma separated, or "*"
	AllowedMethods   string
	AllowedHeaders   string
	AllowCredentials bool
	MaxAge           int
}

// allows reports whether origin is in the allow list
func (c CORSConfig) allows(origin string) bool {
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// CORS adds CORS headers and answers preflight requests.
// With credentials enabled the request origin is echoed instead of "*".
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			if origin != "" && config.allows(origin) {
				allowOrigin := strings.TrimSpace(config.AllowedOrigins)
				if config.AllowCredentials || allowOrigin != "*" {
					allowOrigin = origin
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Origin", allowOrigin)
				h.Set("Access-Control-Allow-Methods", config.AllowedMethods)
				h.Set("Access-Control-Allow-Headers", config.AllowedHeaders)
				h.Set("Access-Control-Expose-Headers", CorrelationIDHeader)
				if config.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
