package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// newRouter builds the full v2/v1 route tree: a metrics middleware mounted
// on the whole router, then per-surface auth subrouters.
func newRouter(s *Server) http.Handler {
	router := mux.NewRouter()
	router.Use(metricsMiddleware)

	router.HandleFunc("/v2/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/v2/metrics", s.handleMetrics).Methods(http.MethodGet)

	v2 := router.PathPrefix("/v2").Subrouter()
	v2.Use(s.requireRelayKey)
	v2.Use(s.rateLimit)
	v2.HandleFunc("/events", s.handleIngestEvent).Methods(http.MethodPost)
	v2.HandleFunc("/evidence", s.handleEvidenceUpload).Methods(http.MethodPost)
	v2.HandleFunc("/evidence/{id}", s.handleEvidenceRetrieve).Methods(http.MethodGet)

	// v1: thin PAT-authenticated wrappers over the forge, specified only at
	// their boundary. Implemented as direct pass-through
	// calls against a request-scoped forge client, with no validation,
	// idempotency, rendering, or label-engine behavior layered on top --
	// that machinery is v2-only.
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requireBearerPAT)
	v1.HandleFunc("/repos/{owner}/{repo}/issues/{issue}/directive", s.handleV1Directive).Methods(http.MethodPost)
	v1.HandleFunc("/repos/{owner}/{repo}/issues/{issue}/comment", s.handleV1Comment).Methods(http.MethodPost)
	v1.HandleFunc("/repos/{owner}/{repo}/issues/{issue}/labels", s.handleV1Labels).Methods(http.MethodPut)
	v1.HandleFunc("/repos/{owner}/{repo}/issues/{issue}/close", s.handleV1Close).Methods(http.MethodPost)

	return router
}
