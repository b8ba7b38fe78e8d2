package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAuth carries the client credentials on envelope requests.
const HeaderAuth = "X-Sentry-Auth"

// Middleware returns an http.Handler wrapper that enforces DSN public-key
// authentication on every request.
//
// Behaviour:
//   - If mode != "dsn" or keys is empty, all requests are allowed (pass-through).
//   - Otherwise the sentry_key is read from the X-Sentry-Auth header, falling
//     back to the sentry_key query parameter, and compared against keys.
//   - A missing or unknown key is answered with 401 and a JSON body.
func Middleware(mode string, keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "dsn" || len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := PublicKey(r)
			if key == "" {
				deny(w, "missing sentry_key")
				return
			}
			if !known(keys, key) {
				deny(w, "invalid sentry_key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PublicKey extracts the DSN public key a request authenticates with.
func PublicKey(r *http.Request) string {
	if k := ParseHeader(r.Header.Get(HeaderAuth))["sentry_key"]; k != "" {
		return k
	}
	return r.URL.Query().Get("sentry_key")
}

// ParseHeader splits an X-Sentry-Auth value of the form
// "Sentry sentry_key=abc, sentry_version=7" into its fields.
func ParseHeader(v string) map[string]string {
	out := make(map[string]string)
	v = strings.TrimSpace(v)
	if len(v) >= 6 && strings.EqualFold(v[:6], "sentry") {
		v = v[6:]
	}
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}

func known(keys []string, key string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func deny(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"` + detail + `"}`))
}
