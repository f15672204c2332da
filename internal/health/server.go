package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"postgres-job-agent/internal/telemetry"
)

// Info describes the running agent for the /status endpoint. BackendPID is
// a getter because the identity only exists once the primary session is up.
type Info struct {
	Version    string
	Station    string
	Started    time.Time
	BackendPID func() int
}

// Router builds the ops HTTP handler: liveness, agent status and metrics.
func Router(info Info) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":     info.Version,
			"station":     info.Station,
			"started_at":  info.Started.UTC().Format(time.RFC3339),
			"backend_pid": info.BackendPID(),
		})
	})

	r.Mount("/metrics", telemetry.Handler())
	return r
}
