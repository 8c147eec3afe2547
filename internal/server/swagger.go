package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"

	"github.com/tributary-ai/edge-router/internal/apidoc"
	"github.com/tributary-ai/edge-router/internal/security"
)

// setupSwaggerRoutes sets up the API documentation routes
func (s *Server) setupSwaggerRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPIYAML).Methods("GET")
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPIJSON).Methods("GET")
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods("GET")
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods("GET")
}

func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(apidoc.YAML())
}

func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	jsonData, err := openAPIJSON()
	if err != nil {
		s.logger.WithError(err).Error("Failed to convert OpenAPI document")
		security.WriteError(w, http.StatusInternalServerError, "api_error", "Error converting OpenAPI document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(jsonData)
}

// openAPIJSON converts the embedded YAML document to JSON
func openAPIJSON() ([]byte, error) {
	var spec interface{}
	if err := yaml.Unmarshal(apidoc.YAML(), &spec); err != nil {
		return nil, fmt.Errorf("error parsing OpenAPI document: %w", err)
	}
	return json.MarshalIndent(toJSONCompatible(spec), "", "  ")
}

// toJSONCompatible turns the map[interface{}]interface{} values yaml.v2
// produces into map[string]interface{}.
func toJSONCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = toJSONCompatible(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = toJSONCompatible(val)
		}
		return t
	default:
		return v
	}
}

var swaggerIndex = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Edge Router - Admin API</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: {{.SpecURL}},
                dom_id: '#swagger-ui',
                deepLinking: true,
                docExpansion: "list",
                validatorUrl: null
            });
        };
    </script>
</body>
</html>`))

// handleSwaggerUI serves the Swagger UI page
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	// the UI loads its assets from a CDN
	w.Header().Set("Content-Security-Policy", "default-src 'self' https://unpkg.com; script-src 'self' 'unsafe-inline' https://unpkg.com; style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data: https://unpkg.com")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	swaggerIndex.Execute(w, struct{ SpecURL string }{
		SpecURL: getBaseURL(r) + AdminPrefix + "/docs/openapi.json",
	})
}

// getBaseURL extracts the base URL from the request
func getBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if forwardedProto := r.Header.Get("X-Forwarded-Proto"); forwardedProto == "http" || forwardedProto == "https" {
		scheme = forwardedProto
	}

	host := r.Host
	if forwardedHost := r.Header.Get("X-Forwarded-Host"); forwardedHost != "" {
		host = forwardedHost
	}

	return fmt.Sprintf("%s://%s", scheme, host)
}
