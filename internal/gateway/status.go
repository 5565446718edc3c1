package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/tierllm/internal/manager"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64           `json:"uptime_seconds"`
	Manager       *manager.Status `json:"manager,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt).Truncate(time.Second) / time.Second),
		}
		if g.status != nil {
			st := g.status.Status()
			resp.Manager = &st
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
