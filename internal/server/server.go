package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/edge-router/internal/middleware"
	"github.com/tributary-ai/edge-router/internal/origin"
	"github.com/tributary-ai/edge-router/internal/routing"
	"github.com/tributary-ai/edge-router/internal/security"
)

// AdminPrefix is reserved for the edge's own endpoints; every other path is
// routed to an environment.
const AdminPrefix = "/_edge"

// Server represents the HTTP server
type Server struct {
	router             *routing.Router
	fetcher            origin.Fetcher
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	validation         *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string                               `yaml:"port"`
	ReadTimeout     time.Duration                        `yaml:"read_timeout"`
	WriteTimeout    time.Duration                        `yaml:"write_timeout"`
	IdleTimeout     time.Duration                        `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration                        `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int                                  `yaml:"max_header_bytes"`
	Version         string                               `yaml:"-"`
	Security        *middleware.SecurityMiddlewareConfig `yaml:"security"`
	Validation      *middleware.ValidationConfig         `yaml:"validation"`
}

// NewServer creates a new server instance
func NewServer(router *routing.Router, fetcher origin.Fetcher, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		router:  router,
		fetcher: fetcher,
		logger:  logger,
		config:  config,
	}

	securityConfig := config.Security
	if securityConfig == nil {
		// the admin API is never served without authentication by default
		securityConfig = &middleware.SecurityMiddlewareConfig{Auth: &security.Config{RequireAuth: true}}
	}
	server.securityMiddleware = middleware.NewSecurityMiddleware(securityConfig, logger)

	validation, err := middleware.NewValidationMiddleware(config.Validation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
	}
	server.validation = validation

	return server, nil
}

// Handler returns the complete HTTP handler
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	l, err := net.Listen("tcp", ":"+s.config.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.config.Port, err)
	}
	return s.Serve(l)
}

// Serve serves on l and blocks until the server stops
func (s *Server) Serve(l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("addr", l.Addr().String()).Info("Starting edge router")
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping edge router")

	s.securityMiddleware.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)

	// PathPrefix alone would also claim /_edgefoo
	r.Handle(AdminPrefix, middleware.SecurityHeaders(http.HandlerFunc(s.handleNotFound)))
	edge := r.PathPrefix(AdminPrefix).MatcherFunc(isAdminPath).Subrouter()
	edge.Use(middleware.SecurityHeaders)

	edge.HandleFunc("/health", s.handleHealthCheck).Methods("GET", "HEAD")
	s.setupSwaggerRoutes(edge)

	api := edge.PathPrefix("/v1").Subrouter()
	api.Use(s.securityMiddleware.Handler())
	api.Use(s.validation.Middleware)
	api.Use(s.contentTypeMiddleware)

	api.Handle("/environments", security.RequirePermission(security.PermissionRead, http.HandlerFunc(s.handleEnvironments))).Methods("GET")
	api.Handle("/routing/decision", security.RequirePermission(security.PermissionDecide, http.HandlerFunc(s.handleRoutingDecision))).Methods("POST")

	// the admin namespace is never proxied
	edge.PathPrefix("/").HandlerFunc(s.handleNotFound)

	r.PathPrefix("/").HandlerFunc(s.handleEdge)

	return r
}

func isAdminPath(r *http.Request, _ *mux.RouteMatch) bool {
	return strings.HasPrefix(r.URL.Path, AdminPrefix+"/")
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, fields: logrus.Fields{}}

		next.ServeHTTP(wrapped, r)

		fields := logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
			"request_id":  middleware.RequestIDFromContext(r.Context()),
		}
		for k, v := range wrapped.fields {
			fields[k] = v
		}
		s.logger.WithFields(fields).Info("HTTP request")
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				security.WriteError(w, http.StatusUnsupportedMediaType, "api_error", "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	security.WriteError(w, http.StatusNotFound, "not_found", fmt.Sprintf("No endpoint %s %s", r.Method, r.URL.Path))
}

// annotate adds fields to the request log line
func annotate(w http.ResponseWriter, fields logrus.Fields) {
	if rw, ok := w.(*responseWriter); ok {
		for k, v := range fields {
			rw.fields[k] = v
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	fields      logrus.Fields
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
