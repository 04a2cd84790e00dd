package coordhttp

import (
	"net/http"
	"strings"

	"github.com/ryandielhenn/zephyrcoord/internal/telemetry"
)

// NewMux wires every coordinator HTTP endpoint behind telemetry
// instrumentation, the same Instrument(op, handler) pattern used
// elsewhere in this codebase.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz)
	mux.Handle("/metrics", telemetry.MetricsHandler())

	mux.Handle("/servers", telemetry.Instrument("servers", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.Enlist(w, r)
		case http.MethodGet:
			s.ListServers(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/servers/", telemetry.Instrument("server_item", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/down"):
			s.Down(w, r)
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/recovery-info"):
			s.SetRecoveryInfo(w, r)
		case r.Method == http.MethodDelete:
			s.Remove(w, r)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})))

	return mux
}
