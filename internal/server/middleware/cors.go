package middleware

import (
	"net/http"
	"slices"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, " + RequestIDHeader
)

// CORS answers preflight requests and tags responses for browser clients
// on the allowed origins. An empty list or "*" allows any origin; an entry
// like "https://*.example.com" allows any subdomain.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (allowAll || originAllowed(origin, allowedOrigins)) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginCheck applies the CORS origin rules to WebSocket upgrades. Requests
// without an Origin header are not from a browser and pass.
func OriginCheck(allowedOrigins []string) func(*http.Request) bool {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowAll || originAllowed(origin, allowedOrigins)
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, pattern := range allowed {
		if strings.EqualFold(pattern, origin) {
			return true
		}
		scheme, host, ok := strings.Cut(pattern, "://*.")
		if !ok {
			continue
		}
		suffix := "." + strings.ToLower(host)
		rest, ok := strings.CutPrefix(strings.ToLower(origin), strings.ToLower(scheme)+"://")
		if ok && strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return true
		}
	}
	return false
}
