// Package httpapi implements the HTTP surface: route dispatch,
// shared-secret auth for the v2 surface, bearer-token auth for the thin v1
// wrappers, and the JSON response helpers every handler uses.
package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/evidence"
	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/labels"
	"github.com/agentrelay/relay/internal/store"
)

// maxEventBodyBytes bounds the size of an inbound event payload so a
// misbehaving caller cannot exhaust memory on the request path.
const maxEventBodyBytes = 1 << 20 // 1 MiB

// maxUploadBytes bounds a single evidence upload.
const maxUploadBytes = 64 << 20 // 64 MiB

// Server holds every dependency a handler needs. One Server is built at
// startup and shared across requests; apart from the rate limiter's
// internal counters, nothing on it is mutated per-request.
type Server struct {
	Store    *store.Store
	Evidence *evidence.Service
	Rules    labels.Rules
	RelayKey string
	V1PAT    string
	Logger   zerolog.Logger

	// NewForgeClient builds a forge.Client scoped to a single inbound
	// request. Each call returns a fresh client whose installation token
	// is minted lazily and cached only for that client's lifetime.
	NewForgeClient func() forge.Client

	now     func() time.Time
	limiter *inMemoryRateLimiter
}

// NewServer builds a Server. now defaults to time.Now; tests may override it
// via Server.now for deterministic timestamps.
func NewServer(st *store.Store, ev *evidence.Service, rules labels.Rules, auth *forge.AppAuth, relayKey, v1PAT string, logger zerolog.Logger) *Server {
	return &Server{
		Store:    st,
		Evidence: ev,
		Rules:    rules,
		RelayKey: relayKey,
		V1PAT:    v1PAT,
		Logger:   logger,
		NewForgeClient: func() forge.Client {
			return forge.NewRequestClient(auth)
		},
		now:     time.Now,
		limiter: newInMemoryRateLimiter(rateLimitMaxRequests, rateLimitWindow, nil),
	}
}

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Router builds the full route tree. Exposed separately from NewServer so
// callers (tests, cmd/relay) can mount it on whatever *http.Server they like.
func (s *Server) Router() http.Handler {
	if s.limiter == nil {
		s.limiter = newInMemoryRateLimiter(rateLimitMaxRequests, rateLimitWindow, nil)
	}
	return newRouter(s)
}
