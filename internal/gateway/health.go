package gateway

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"` // "ok" or "degraded"
	ModelLoaded bool   `json:"model_loaded"`
	Emergency   bool   `json:"emergency_mode"`
	Pressure    string `json:"memory_pressure,omitempty"`
	Tier        string `json:"memory_tier,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 503 when initialization failed or the host is in emergency.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if g.status != nil {
			st := g.status.Status()
			resp.ModelLoaded = st.ModelLoaded
			resp.Emergency = st.EmergencyMode
			resp.Pressure = st.MemoryPressure.String()
			resp.Tier = st.MemoryTier.String()
			resp.Error = st.Initialization.Error
			if !g.status.Healthy() {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
