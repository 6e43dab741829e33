package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/holisticode/exec-tracer/blocktrace"
)

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := s.isReady.Swap(false); !wasReady {
		return
	}
	// l4 load balancers need some time to notice the readiness change
	time.Sleep(s.cfg.DrainDuration)
	s.log.Info("Server marked as not ready")
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := s.isReady.Swap(true); wasReady {
		return
	}
	s.log.Info("Server marked as ready")
}

// statusResponse is served by /api/status. Tracer is absent on query-only
// deployments.
type statusResponse struct {
	Ready       bool               `json:"ready"`
	Tracer      *blocktrace.Status `json:"tracer,omitempty"`
	LatestBlock *uint32            `json:"latestBlock,omitempty"` //nolint:tagliatelle
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Ready: s.isReady.Load()}
	if s.cfg.Tracer != nil {
		status := s.cfg.Tracer.Status()
		resp.Tracer = &status
	}
	if s.cfg.DBService != nil {
		latest, err := s.cfg.DBService.LatestBlock(r.Context())
		if err == nil {
			resp.LatestBlock = &latest
		} else {
			s.log.Debug("no latest block", "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write status", "err", err)
	}
}
