package auth

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

// QueryParam is the query parameter accepted in place of the header.
const QueryParam = "api_key"

// APIKey returns middleware enforcing API key authentication on every request.
//
// Behaviour:
//   - If mode != "apikey", all requests are allowed.
//   - Otherwise the value of header (or the api_key query parameter) must
//     equal key. An empty key matches nothing, so every request is refused.
//   - A missing, empty or incorrect key returns 401.
func APIKey(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get(QueryParam)
			}
			if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				zap.L().Debug("auth: rejected request",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Bool("key_present", got != ""),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid api key"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
