package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/edge-router/internal/middleware"
	"github.com/tributary-ai/edge-router/internal/origin"
	"github.com/tributary-ai/edge-router/internal/routing"
	"github.com/tributary-ai/edge-router/internal/security"
	"github.com/tributary-ai/edge-router/internal/server"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "EDGE_ROUTER_"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Routing  RoutingConfig  `yaml:"routing"`
	Origins  OriginsConfig  `yaml:"origins"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// RoutingConfig holds the environment selection configuration
type RoutingConfig struct {
	PublicBranches       routing.PublicBranches `yaml:"public_branches"`
	Primary              string                 `yaml:"primary"`
	Cookie               routing.CookieSettings `yaml:"cookie"`
	NoCookiePaths        []string               `yaml:"no_cookie_paths"`
	BotPatterns          []string               `yaml:"bot_patterns"`
	OverrideCacheControl string                 `yaml:"override_cache_control"`
}

// OriginsConfig describes where environments and branches are served from
type OriginsConfig struct {
	Scheme  string            `yaml:"scheme"`
	Timeout time.Duration     `yaml:"timeout"`
	Static  map[string]string `yaml:"static"`
	DNS     origin.DNSConfig  `yaml:"dns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds admin API security configuration
type SecurityConfig struct {
	APIKeys      []string                    `yaml:"api_keys"`
	JWTSecret    string                      `yaml:"jwt_secret"`
	JWTExpiry    time.Duration               `yaml:"jwt_expiry"`
	DisableAuth  bool                        `yaml:"disable_auth"`
	RateLimiting RateLimitConfig             `yaml:"rate_limiting"`
	Validation   middleware.ValidationConfig `yaml:"validation"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_minute"`
	BurstSize      int  `yaml:"burst_size"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// maps merge on decode, so their defaults apply only when nothing was set
	if config.Routing.PublicBranches == nil {
		config.Routing.PublicBranches = routing.PublicBranches{routing.DefaultPrimary: 1}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:            "8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1MB
	}

	c.Routing = RoutingConfig{
		Primary: routing.DefaultPrimary,
		Cookie: routing.CookieSettings{
			MaxAge: 30 * 24 * time.Hour,
			Secure: true,
		},
		OverrideCacheControl: routing.DefaultOverrideCacheControl,
	}

	c.Origins = OriginsConfig{
		Scheme:  "https",
		Timeout: 30 * time.Second,
		DNS: origin.DNSConfig{
			Timeout: 2 * time.Second,
		},
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys:   []string{},
		JWTExpiry: 24 * time.Hour,
		RateLimiting: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			BurstSize:      10,
		},
		Validation: middleware.ValidationConfig{
			Enabled:        true,
			MaxRequestSize: 64 << 10,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	if port := os.Getenv(EnvPrefix + "PORT"); port != "" {
		c.Server.Port = port
	}

	if branches := os.Getenv(EnvPrefix + "PUBLIC_BRANCHES"); branches != "" {
		parsed, err := ParsePublicBranches(branches)
		if err != nil {
			return fmt.Errorf("%sPUBLIC_BRANCHES: %w", EnvPrefix, err)
		}
		c.Routing.PublicBranches = parsed
	}

	if primary := os.Getenv(EnvPrefix + "PRIMARY"); primary != "" {
		c.Routing.Primary = primary
	}

	if domain := os.Getenv(EnvPrefix + "COOKIE_DOMAIN"); domain != "" {
		c.Routing.Cookie.Domain = domain
	}

	if scheme := os.Getenv(EnvPrefix + "ORIGIN_SCHEME"); scheme != "" {
		c.Origins.Scheme = scheme
	}

	if suffix := os.Getenv(EnvPrefix + "DNS_SUFFIX"); suffix != "" {
		c.Origins.DNS.Suffix = suffix
	}

	if nameserver := os.Getenv(EnvPrefix + "DNS_NAMESERVER"); nameserver != "" {
		c.Origins.DNS.Nameserver = nameserver
	}

	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if keys := os.Getenv(EnvPrefix + "API_KEYS"); keys != "" {
		c.Security.APIKeys = splitList(keys)
	}

	if secret := os.Getenv(EnvPrefix + "JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}

	return nil
}

// ParsePublicBranches parses "master=3,beta=1".
func ParsePublicBranches(s string) (routing.PublicBranches, error) {
	branches := routing.PublicBranches{}
	for _, item := range splitList(s) {
		name, weight, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=weight, got %q", item)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %q: %w", name, err)
		}
		if _, dup := branches[name]; dup {
			return nil, fmt.Errorf("duplicate public branch %q", name)
		}
		branches[name] = w
	}
	return branches, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if err := c.Routing.PublicBranches.Validate(); err != nil {
		return fmt.Errorf("invalid public branches: %w", err)
	}
	if !c.Routing.PublicBranches.Has(c.Routing.Primary) {
		return fmt.Errorf("primary environment %q is not a public branch", c.Routing.Primary)
	}
	if cc := c.Routing.OverrideCacheControl; cc != "" && !routing.IsUncacheable(cc) {
		return fmt.Errorf("override_cache_control %q does not prevent shared caching", cc)
	}
	if c.Routing.Cookie.MaxAge < 0 {
		return fmt.Errorf("cookie max_age cannot be negative")
	}

	if c.Origins.Scheme != "http" && c.Origins.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme: %s", c.Origins.Scheme)
	}
	if len(c.Origins.Static) == 0 && c.Origins.DNS.Suffix == "" {
		return errors.New("at least one of origins.static or origins.dns.suffix must be configured")
	}
	for name := range c.Routing.PublicBranches {
		if _, ok := c.Origins.Static[name]; !ok && c.Origins.DNS.Suffix == "" {
			return fmt.Errorf("public branch %q has no static origin and dns is not configured", name)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Security.RateLimiting.Enabled && c.Security.RateLimiting.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_minute must be positive when rate limiting is enabled")
	}

	return nil
}

// ToRoutingOptions converts to routing.Options. Origins, Bots and Paths are
// wired by the caller.
func (c *Config) ToRoutingOptions() routing.Options {
	return routing.Options{
		PublicBranches:       c.Routing.PublicBranches,
		Primary:              c.Routing.Primary,
		Cookie:               c.Routing.Cookie,
		OverrideCacheControl: c.Routing.OverrideCacheControl,
	}
}

// ToFetcherConfig converts to origin.FetcherConfig
func (c *Config) ToFetcherConfig() *origin.FetcherConfig {
	return &origin.FetcherConfig{
		Scheme:  c.Origins.Scheme,
		Timeout: c.Origins.Timeout,
	}
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:            c.Server.Port,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		IdleTimeout:     c.Server.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		MaxHeaderBytes:  c.Server.MaxHeaderBytes,
		Security:        c.ToSecurityMiddlewareConfig(),
		Validation:      &c.Security.Validation,
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: c.ToAuthConfig(),
		RateLimit: &security.RateLimitConfig{
			Enabled:           c.Security.RateLimiting.Enabled,
			RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
			BurstSize:         c.Security.RateLimiting.BurstSize,
			CleanupInterval:   5 * time.Minute,
		},
	}
}

// ToAuthConfig converts to security.Config
func (c *Config) ToAuthConfig() *security.Config {
	return &security.Config{
		APIKeys:     c.Security.APIKeys,
		JWTSecret:   c.Security.JWTSecret,
		JWTExpiry:   c.Security.JWTExpiry,
		RequireAuth: !c.Security.DisableAuth,
	}
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	out.Security.APIKeys = make([]string, len(c.Security.APIKeys))
	for i := range c.Security.APIKeys {
		out.Security.APIKeys[i] = "****"
	}
	if c.Security.JWTSecret != "" {
		out.Security.JWTSecret = "****"
	}
	return &out
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	return data, nil
}
