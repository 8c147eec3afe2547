package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tributary-ai/edge-router/internal/routing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("EDGE_ROUTER_DNS_SUFFIX", "preview.example.com")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port '8080', got %s", cfg.Server.Port)
	}

	if cfg.Routing.Primary != "master" {
		t.Errorf("Expected default primary 'master', got %s", cfg.Routing.Primary)
	}

	if len(cfg.Routing.PublicBranches) != 1 || cfg.Routing.PublicBranches["master"] != 1 {
		t.Errorf("Expected default public branches {master: 1}, got %v", cfg.Routing.PublicBranches)
	}

	if cfg.Routing.OverrideCacheControl != routing.DefaultOverrideCacheControl {
		t.Errorf("Expected default override cache control, got %s", cfg.Routing.OverrideCacheControl)
	}

	if cfg.Routing.Cookie.MaxAge != 30*24*time.Hour {
		t.Errorf("Expected default cookie max age 720h, got %v", cfg.Routing.Cookie.MaxAge)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Expected default read timeout 30s, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  read_timeout: 5s
routing:
  public_branches:
    main: 3
    canary: 1
  primary: main
  cookie:
    max_age: 24h
    domain: example.com
    secure: false
  no_cookie_paths:
    - /api/**
  bot_patterns:
    - internal-monitor
origins:
  scheme: http
  static:
    main: main.internal:8080
    canary: canary.internal:8080
  dns:
    suffix: preview.internal
    nameserver: 10.0.0.53:53
logging:
  level: debug
  format: text
security:
  api_keys: [k1, k2]
  jwt_secret: s3cret
  rate_limiting:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}

	// defaults for unset fields survive
	if cfg.Server.WriteTimeout != 60*time.Second {
		t.Errorf("Expected default write timeout, got %v", cfg.Server.WriteTimeout)
	}

	want := routing.PublicBranches{"main": 3, "canary": 1}
	if len(cfg.Routing.PublicBranches) != len(want) {
		t.Fatalf("Expected %v, got %v", want, cfg.Routing.PublicBranches)
	}
	for name, weight := range want {
		if cfg.Routing.PublicBranches[name] != weight {
			t.Errorf("Expected weight %v for %s, got %v", weight, name, cfg.Routing.PublicBranches[name])
		}
	}

	if cfg.Routing.Cookie.MaxAge != 24*time.Hour || cfg.Routing.Cookie.Domain != "example.com" || cfg.Routing.Cookie.Secure {
		t.Errorf("Unexpected cookie settings: %+v", cfg.Routing.Cookie)
	}

	if cfg.Origins.Static["canary"] != "canary.internal:8080" || cfg.Origins.DNS.Nameserver != "10.0.0.53:53" {
		t.Errorf("Unexpected origins: %+v", cfg.Origins)
	}

	if cfg.Origins.DNS.Timeout != 2*time.Second {
		t.Errorf("Expected default dns timeout, got %v", cfg.Origins.DNS.Timeout)
	}

	opts := cfg.ToRoutingOptions()
	if opts.Primary != "main" || opts.Cookie.Domain != "example.com" {
		t.Errorf("Unexpected routing options: %+v", opts)
	}

	auth := cfg.ToAuthConfig()
	if !auth.RequireAuth || len(auth.APIKeys) != 2 || auth.JWTSecret != "s3cret" {
		t.Errorf("Unexpected auth config: %+v", auth)
	}

	if cfg.ToSecurityMiddlewareConfig().RateLimit.Enabled {
		t.Errorf("Expected rate limiting disabled")
	}
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("EDGE_ROUTER_PORT", "9090")
	t.Setenv("EDGE_ROUTER_PUBLIC_BRANCHES", "master=3, beta=1")
	t.Setenv("EDGE_ROUTER_DNS_SUFFIX", "preview.example.com")
	t.Setenv("EDGE_ROUTER_LOG_LEVEL", "debug")
	t.Setenv("EDGE_ROUTER_LOG_FORMAT", "text")
	t.Setenv("EDGE_ROUTER_API_KEYS", "a, b,,c")
	t.Setenv("EDGE_ROUTER_JWT_SECRET", "from-env")
	t.Setenv("EDGE_ROUTER_COOKIE_DOMAIN", "example.org")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port '9090', got %s", cfg.Server.Port)
	}

	if cfg.Routing.PublicBranches["master"] != 3 || cfg.Routing.PublicBranches["beta"] != 1 {
		t.Errorf("Unexpected public branches: %v", cfg.Routing.PublicBranches)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Unexpected logging: %+v", cfg.Logging)
	}

	if strings.Join(cfg.Security.APIKeys, ",") != "a,b,c" {
		t.Errorf("Unexpected api keys: %v", cfg.Security.APIKeys)
	}

	if cfg.Security.JWTSecret != "from-env" || cfg.Routing.Cookie.Domain != "example.org" {
		t.Errorf("Environment overrides not applied")
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
routing:
  public_branches: {master: 1}
origins:
  static: {master: master.internal}
`)
	t.Setenv("EDGE_ROUTER_PUBLIC_BRANCHES", "master=1,beta=1")
	t.Setenv("EDGE_ROUTER_DNS_SUFFIX", "preview.internal")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Routing.PublicBranches) != 2 {
		t.Errorf("Expected env public branches to win, got %v", cfg.Routing.PublicBranches)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config string
		env    map[string]string
		errMsg string
	}{
		{
			name:   "no origins",
			config: `routing: {public_branches: {master: 1}}`,
			errMsg: "origins",
		},
		{
			name:   "all zero weights",
			config: "routing: {public_branches: {master: 0, beta: 0}}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "invalid public branches",
		},
		{
			name:   "negative weight",
			config: "routing: {public_branches: {master: 1, beta: -1}}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "invalid public branches",
		},
		{
			name:   "NaN weight in yaml",
			config: "routing: {public_branches: {master: .nan, beta: 1}}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "non-finite weight",
		},
		{
			name:   "NaN weight in variable",
			config: "origins: {dns: {suffix: p.example.com}}",
			env:    map[string]string{"EDGE_ROUTER_PUBLIC_BRANCHES": "master=NaN"},
			errMsg: "non-finite weight",
		},
		{
			name:   "infinite weight in variable",
			config: "origins: {dns: {suffix: p.example.com}}",
			env:    map[string]string{"EDGE_ROUTER_PUBLIC_BRANCHES": "master=1,beta=+Inf"},
			errMsg: "non-finite weight",
		},
		{
			name:   "empty public branches",
			config: "routing: {public_branches: {}}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "invalid public branches",
		},
		{
			name:   "primary not public",
			config: "routing: {public_branches: {main: 1}}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "primary environment",
		},
		{
			name:   "cacheable override",
			config: "routing: {override_cache_control: 'public, max-age=60'}\norigins: {dns: {suffix: p.example.com}}",
			errMsg: "override_cache_control",
		},
		{
			name:   "public branch without origin",
			config: "routing: {public_branches: {master: 1, beta: 1}}\norigins: {static: {master: m.internal}}",
			errMsg: `public branch "beta"`,
		},
		{
			name:   "invalid scheme",
			config: "origins: {scheme: ftp, dns: {suffix: p.example.com}}",
			errMsg: "invalid origin scheme",
		},
		{
			name:   "invalid log level",
			config: "origins: {dns: {suffix: p.example.com}}",
			env:    map[string]string{"EDGE_ROUTER_LOG_LEVEL": "invalid"},
			errMsg: "invalid log level",
		},
		{
			name:   "invalid public branches variable",
			config: "origins: {dns: {suffix: p.example.com}}",
			env:    map[string]string{"EDGE_ROUTER_PUBLIC_BRANCHES": "master"},
			errMsg: "EDGE_ROUTER_PUBLIC_BRANCHES",
		},
		{
			name:   "malformed yaml",
			config: "routing: [",
			errMsg: "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(writeConfig(t, tt.config))
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestParsePublicBranches(t *testing.T) {
	branches, err := ParsePublicBranches("master=2.5,beta=0")
	if err != nil {
		t.Fatalf("ParsePublicBranches failed: %v", err)
	}
	if branches["master"] != 2.5 || branches["beta"] != 0 {
		t.Errorf("Unexpected branches: %v", branches)
	}

	for _, bad := range []string{"master", "=1", "master=abc", "master=1,master=2"} {
		if _, err := ParsePublicBranches(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestConfig_RedactedYAML(t *testing.T) {
	t.Setenv("EDGE_ROUTER_DNS_SUFFIX", "preview.example.com")
	t.Setenv("EDGE_ROUTER_API_KEYS", "super-secret-key")
	t.Setenv("EDGE_ROUTER_JWT_SECRET", "super-secret-jwt")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	data, err := cfg.Redacted().YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "super-secret") {
		t.Errorf("Secrets leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "public_branches:") {
		t.Errorf("Expected routing section in output:\n%s", out)
	}

	// the original is untouched
	if cfg.Security.APIKeys[0] != "super-secret-key" {
		t.Errorf("Redacted modified the original config")
	}
}
