package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Admin API permissions.
const (
	PermissionRead   = "edge:read"
	PermissionDecide = "edge:decide"
)

// Issuer is the iss claim of tokens minted by the edge.
const Issuer = "edge-router"

// AllPermissions is granted to API keys.
var AllPermissions = []string{PermissionRead, PermissionDecide}

type contextKey string

const (
	authInfoKey contextKey = "auth_info"
	clientIPKey contextKey = "client_ip"
)

// AuthInfo contains the authenticated caller
type AuthInfo struct {
	UserID      string            `json:"user_id"`
	APIKey      string            `json:"api_key,omitempty"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// HasPermission reports whether the caller holds permission.
func (a *AuthInfo) HasPermission(permission string) bool {
	return slices.Contains(a.Permissions, permission)
}

// JWTClaims represents admin token claims
type JWTClaims struct {
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// Config holds admin authentication configuration
type Config struct {
	APIKeys     []string      `yaml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	RequireAuth bool          `yaml:"require_auth"`
}

// Authenticator validates API keys and HS256 tokens for the admin API
type Authenticator struct {
	config *Config
	logger *logrus.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(config *Config, logger *logrus.Logger) *Authenticator {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}

	return &Authenticator{
		config: config,
		logger: logger,
	}
}

// Authenticate validates a token (API key or JWT)
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthInfo, error) {
	if authInfo, err := a.ValidateAPIKey(ctx, token); err == nil {
		return authInfo, nil
	}

	if claims, err := a.ValidateJWT(token); err == nil {
		info := &AuthInfo{
			UserID:      claims.Subject,
			Permissions: claims.Permissions,
			Metadata:    claims.Metadata,
		}
		if claims.ExpiresAt != nil {
			info.ExpiresAt = &claims.ExpiresAt.Time
		}
		return info, nil
	}

	return nil, errors.New("invalid authentication token")
}

// ValidateAPIKey validates an API key
func (a *Authenticator) ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	// constant time, every key is compared
	match := -1
	for i, validKey := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			match = i
		}
	}
	if match >= 0 {
		return &AuthInfo{
			UserID:      generateUserID(apiKey),
			APIKey:      apiKey,
			Permissions: AllPermissions,
			Metadata: map[string]string{
				"key_index": strconv.Itoa(match),
				"auth_type": "api_key",
			},
		}, nil
	}

	a.logger.WithFields(logrus.Fields{
		"api_key_prefix": maskAPIKey(apiKey),
		"remote_ip":      getClientIP(ctx),
	}).Debug("Token is not an API key")

	return nil, errors.New("invalid API key")
}

// GenerateJWT mints a token for subject with the given permissions.
func (a *Authenticator) GenerateJWT(subject string, permissions []string, metadata map[string]string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()

	claims := &JWTClaims{
		Permissions: permissions,
		Metadata:    metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT validates a token signed with the configured secret
func (a *Authenticator) ValidateJWT(tokenString string) (*JWTClaims, error) {
	if a.config.JWTSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid JWT token")
}

// Middleware authenticates admin requests. When auth is not required every
// caller gets all permissions.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			if !a.config.RequireAuth {
				ctx := context.WithValue(r.Context(), authInfoKey, &AuthInfo{
					UserID:      "anonymous",
					Permissions: AllPermissions,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := extractToken(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "authentication_error", "Missing authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), clientIPKey, clientIP)
			authInfo, err := a.Authenticate(ctx, token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"error":      err.Error(),
					"path":       r.URL.Path,
					"method":     r.Method,
					"remote_ip":  clientIP,
					"user_agent": r.UserAgent(),
				}).Warn("Authentication failed")

				WriteError(w, http.StatusUnauthorized, "authentication_error", "Invalid authentication token")
				return
			}

			a.logger.WithFields(logrus.Fields{
				"user_id":   authInfo.UserID,
				"auth_type": authInfo.Metadata["auth_type"],
				"path":      r.URL.Path,
				"method":    r.Method,
				"remote_ip": clientIP,
			}).Debug("Authentication successful")

			ctx = context.WithValue(ctx, authInfoKey, authInfo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects callers without permission. It must run after
// Middleware.
func RequirePermission(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authInfo, ok := GetAuthInfo(r.Context())
		if !ok || !authInfo.HasPermission(permission) {
			WriteError(w, http.StatusForbidden, "permission_error", "Missing permission "+permission)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAuthInfo extracts authentication info from request context
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	if authInfo, ok := ctx.Value(authInfoKey).(*AuthInfo); ok {
		return authInfo, true
	}
	return nil, false
}

// GetClientIP returns the first X-Forwarded-For address, X-Real-IP or the
// peer address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return strings.Trim(ip, "[]")
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	return ""
}

func generateUserID(apiKey string) string {
	if len(apiKey) >= 8 {
		return "key_" + apiKey[:8]
	}
	return "key_" + apiKey
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func getClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return "unknown"
}
