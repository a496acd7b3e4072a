package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth rejects API calls that do not carry one of keys, either as
// "Authorization: Bearer <key>" or in X-API-Key. WebSocket upgrades may pass
// the key as ?api_key= since browsers cannot set headers on them.
//
// No keys disables the check. A public entry ending in "/" matches every
// path below it; any other entry must match exactly.
func Auth(keys []string, public ...string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(accepted) == 0 || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			token := credential(r)
			switch {
			case token == "":
				unauthorized(w, r, "missing api key")
			case !knownKey(accepted, token):
				unauthorized(w, r, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// SplitKeys parses a comma-separated key list so a new key can be rolled out
// before the old one is retired.
func SplitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// knownKey compares against every key so the time taken does not reveal
// which one matched.
func knownKey(accepted [][]byte, token string) bool {
	found := 0
	for _, k := range accepted {
		found |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	return found == 1
}

func credential(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="everest"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// writeError sends the same {"error": ...} body the handlers use, tagged
// with the request id when Logging ran first.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	body := map[string]string{"error": msg}
	if id := RequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
