package routing

import "context"

// OriginResolver maps an environment or branch name to the host serving it.
// An unknown name is reported with an error wrapping ErrOriginNotFound.
type OriginResolver interface {
	FindEnvByName(ctx context.Context, name string) (string, error)
}

// BotDetector reports whether a User-Agent belongs to a known automated client.
type BotDetector interface {
	IsBot(userAgent string) bool
}

// PathPolicy gates issuing the env cookie on a request path.
type PathPolicy interface {
	IsSetCookieAllowedForPath(path string) bool
}

// OriginResolverFunc adapts a function to OriginResolver.
type OriginResolverFunc func(ctx context.Context, name string) (string, error)

func (f OriginResolverFunc) FindEnvByName(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// BotDetectorFunc adapts a function to BotDetector.
type BotDetectorFunc func(userAgent string) bool

func (f BotDetectorFunc) IsBot(userAgent string) bool { return f(userAgent) }

// PathPolicyFunc adapts a function to PathPolicy.
type PathPolicyFunc func(path string) bool

func (f PathPolicyFunc) IsSetCookieAllowedForPath(path string) bool { return f(path) }

type noBots struct{}

func (noBots) IsBot(string) bool { return false }

type allowAllPaths struct{}

func (allowAllPaths) IsSetCookieAllowedForPath(string) bool { return true }
