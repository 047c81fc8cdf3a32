package httpapi

import (
	"net/http"
	"time"
)

// healthStartedAt tracks process start for uptime reporting.
var healthStartedAt = time.Now()

type healthStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type healthzResponse struct {
	Healthy    bool         `json:"healthy"`
	Uptime     string       `json:"uptime"`
	Store      healthStatus `json:"store"`
	ForgeCreds healthStatus `json:"forge_credentials"`
}

// handleHealthz reports store reachability and whether a forge client
// builder is configured, without making a live forge call. It does not
// re-check the app key; config.IsValid checks that once at startup.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthzResponse{Uptime: time.Since(healthStartedAt).String()}

	if s.Store == nil {
		resp.Store = healthStatus{OK: false, Message: "store not configured"}
	} else if err := s.Store.Ping(); err != nil {
		resp.Store = healthStatus{OK: false, Message: err.Error()}
	} else {
		resp.Store = healthStatus{OK: true}
	}

	if s.NewForgeClient == nil {
		resp.ForgeCreds = healthStatus{OK: false, Message: "forge client not configured"}
	} else {
		resp.ForgeCreds = healthStatus{OK: true}
	}

	resp.Healthy = resp.Store.OK && resp.ForgeCreds.OK

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
