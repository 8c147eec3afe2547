package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/edge-router/internal/apidoc"
)

// ValidationMiddleware validates admin requests against the embedded
// OpenAPI document
type ValidationMiddleware struct {
	router         routers.Router
	logger         *logrus.Logger
	enabled        bool
	maxRequestSize int64
}

// ValidationConfig configures the validation middleware
type ValidationConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxRequestSize int64 `yaml:"max_request_size"`
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(config *ValidationConfig, logger *logrus.Logger) (*ValidationMiddleware, error) {
	if config == nil {
		config = &ValidationConfig{}
	}
	maxRequestSize := config.MaxRequestSize
	if maxRequestSize <= 0 {
		maxRequestSize = 64 << 10
	}

	vm := &ValidationMiddleware{
		logger:         logger,
		enabled:        config.Enabled,
		maxRequestSize: maxRequestSize,
	}

	if !config.Enabled {
		logger.Info("API validation middleware disabled")
		return vm, nil
	}

	doc, err := apidoc.Load(context.Background())
	if err != nil {
		return nil, err
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI router: %w", err)
	}
	vm.router = router

	logger.Info("API validation middleware enabled")
	return vm, nil
}

// Middleware returns the HTTP middleware function
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Request validation failed")

			vm.writeValidationError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		// undocumented routes are left to the mux
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, vm.maxRequestSize+1))
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		if int64(len(body)) > vm.maxRequestSize {
			return fmt.Errorf("request body exceeds %d bytes", vm.maxRequestSize)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			// authentication is enforced by the security chain
			ExcludeRequestSecurity: true,
		},
	}

	if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
		return err
	}

	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	return nil
}

// ValidationErrorDetail contains parsed validation error information
type ValidationErrorDetail struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (vm *ValidationMiddleware) writeValidationError(w http.ResponseWriter, err error) {
	detail := parseValidationError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": detail.Message,
			"type":    "validation_error",
			"code":    http.StatusBadRequest,
			"details": detail.Details,
		},
		"timestamp": time.Now().Unix(),
	})
}

func parseValidationError(err error) *ValidationErrorDetail {
	detail := &ValidationErrorDetail{
		Message: "Request validation failed",
		Details: map[string]interface{}{"error": err.Error()},
	}

	var requestErr *openapi3filter.RequestError
	if errors.As(err, &requestErr) {
		switch {
		case requestErr.RequestBody != nil:
			detail.Message = "Invalid request body"
			detail.Details["field"] = "request body"
		case requestErr.Parameter != nil:
			detail.Message = "Invalid parameter"
			detail.Details["field"] = requestErr.Parameter.Name
		}
		if requestErr.Reason != "" {
			detail.Details["reason"] = requestErr.Reason
		}
		return detail
	}

	if strings.Contains(err.Error(), "exceeds") {
		detail.Message = "Request body too large"
	}
	return detail
}

// ValidateResponse checks a recorded admin response against the document.
// Undocumented routes are skipped.
func (vm *ValidationMiddleware) ValidateResponse(r *http.Request, response *http.Response) error {
	if !vm.enabled {
		return nil
	}

	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		return nil
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		},
		Status: response.StatusCode,
		Header: response.Header,
	}

	if response.Body != nil {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		input.SetBodyBytes(body)
		response.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := openapi3filter.ValidateResponse(r.Context(), input); err != nil {
		return fmt.Errorf("response validation failed: %w", err)
	}
	return nil
}
