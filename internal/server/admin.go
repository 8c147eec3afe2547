package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tributary-ai/edge-router/internal/security"
	"github.com/tributary-ai/edge-router/internal/types"
)

// handleHealthCheck reports liveness
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &types.HealthResponse{
		Status:    "healthy",
		Version:   s.config.Version,
		Timestamp: time.Now().Unix(),
	})
}

// handleEnvironments lists the public branches
func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.NewEnvironmentsResponse(s.router))
}

// handleRoutingDecision returns the routing decision without fetching the
// origin
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var req types.DecisionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		security.WriteError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	plan, err := s.router.Route(r.Context(), req.RequestContext())
	if err != nil {
		s.writeRoutingError(w, err, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, types.NewDecisionResponse(plan))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
