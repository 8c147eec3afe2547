package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/edge-router/internal/routing"
	"github.com/tributary-ai/edge-router/internal/security"
)

// handleEdge routes a visitor request to its environment, fetches the
// origin response and decorates it with the env cookie and Cache-Control
// adjustments. Nothing else about the origin response changes.
func (s *Server) handleEdge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, err := s.router.Route(ctx, routing.ParseRequest(r))
	if err != nil {
		s.writeRoutingError(w, err, http.StatusBadGateway)
		return
	}

	annotate(w, logrus.Fields{
		"env":        plan.Environment.Name,
		"kind":       plan.Decision.Kind.String(),
		"origin":     plan.Environment.OriginHost,
		"cookie_set": plan.Cookie.Set,
	})

	resp, err := s.fetcher.Fetch(ctx, plan.Environment.OriginHost, r)
	if err != nil {
		s.logger.WithError(err).WithField("origin", plan.Environment.OriginHost).Warn("Origin fetch failed")
		security.WriteError(w, http.StatusBadGateway, "origin_error", "Origin unavailable")
		return
	}
	defer resp.Body.Close()

	plan.Decorate(resp.Header)

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.WithError(err).WithField("origin", plan.Environment.OriginHost).Debug("Copying origin response aborted")
	}
}

// writeRoutingError answers a failed Route. Clients get the requested name
// and the kind of failure; resolver details only go to the log.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error, notFoundStatus int) {
	var resolveErr *routing.ResolveError
	switch {
	case errors.As(err, &resolveErr) && resolveErr.NotFound:
		security.WriteError(w, notFoundStatus, "routing_error", resolveErr.Message())
	case errors.As(err, &resolveErr):
		s.logger.WithError(err).WithField("requested", resolveErr.Name).Error("Environment lookup failed")
		security.WriteError(w, http.StatusBadGateway, "origin_error", resolveErr.Message())
	default:
		s.logger.WithError(err).Error("Routing failed")
		security.WriteError(w, http.StatusInternalServerError, "api_error", "Routing failed")
	}
}
