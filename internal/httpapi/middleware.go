package httpapi

import "net/http"

// relayKeyHeader is the shared-secret header required on every v2 request.
const relayKeyHeader = "X-Relay-Key"

// requireRelayKey is the v2 auth middleware: an exact match against the
// configured shared secret.
func (s *Server) requireRelayKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RelayKey == "" || r.Header.Get(relayKeyHeader) != s.RelayKey {
			respondError(w, http.StatusUnauthorized, "missing or invalid "+relayKeyHeader, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearerPAT is the v1 auth middleware: a bearer token compared
// against the configured PAT.
func (s *Server) requireBearerPAT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if s.V1PAT == "" || len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.V1PAT {
			respondError(w, http.StatusUnauthorized, "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
