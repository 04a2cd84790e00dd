// Package coordhttp exposes the coordinator's membership mutator over
// HTTP: enlistment, crash/removal, recovery-info updates, and the
// read-only server list, each request-validated with
// go-playground/validator before it reaches the mutator.
package coordhttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
	"github.com/ryandielhenn/zephyrcoord/pkg/mutator"
)

// Server adapts a *mutator.Coordinator to net/http.
type Server struct {
	coord *mutator.Coordinator
}

func NewServer(coord *mutator.Coordinator) *Server {
	return &Server{coord: coord}
}

// Healthz returns 200 OK to indicate the coordinator process is alive.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Enlist handles POST /servers.
func (s *Server) Enlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req enlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	replaces, err := req.replaces()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.coord.EnlistServer(r.Context(), req.Locator, req.serviceMask(), req.ExpectedReadMBytesPerSec, replaces)
	if err != nil {
		log.Printf("[Enlist] locator=%q error=%v", req.Locator, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, enlistResponse{ServerID: id.String()})
}

// Down handles POST /servers/{id}/down.
func (s *Server) Down(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(w, r, "/down")
	if !ok {
		return
	}
	if err := s.coord.ServerDown(r.Context(), id); err != nil {
		respondMutatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /servers/{id}, used once external recovery has
// confirmed a crashed master's data is fully reconstructed.
func (s *Server) Remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := parseServerId(strings.TrimPrefix(r.URL.Path, "/servers/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coord.RemoveAfterRecovery(r.Context(), id); err != nil {
		respondMutatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetRecoveryInfo handles PUT /servers/{id}/recovery-info.
func (s *Server) SetRecoveryInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(w, r, "/recovery-info")
	if !ok {
		return
	}
	var req recoveryInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coord.SetMasterRecoveryInfo(r.Context(), id, req.Info); err != nil {
		respondMutatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListServers handles GET /servers?service=MASTER,BACKUP.
func (s *Server) ListServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filter := parseServiceFilter(r.URL.Query().Get("service"))
	snap := s.coord.Serialize(filter)

	views := make([]serverView, 0, len(snap.Servers))
	for _, e := range snap.Servers {
		views = append(views, toServerView(e))
	}
	writeJSON(w, http.StatusOK, struct {
		VersionNumber uint64       `json:"version_number"`
		Servers       []serverView `json:"servers"`
	}{VersionNumber: snap.VersionNumber, Servers: views})
}

func idFromPath(w http.ResponseWriter, r *http.Request, suffix string) (membership.ServerId, bool) {
	raw := strings.TrimPrefix(r.URL.Path, "/servers/")
	raw = strings.TrimSuffix(raw, suffix)
	id, err := parseServerId(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return membership.Invalid, false
	}
	return id, true
}

func respondMutatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, membership.ErrUnknownServerId):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, mutator.ErrServerGone):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
