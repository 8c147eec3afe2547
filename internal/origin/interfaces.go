package origin

import (
	"context"
	"net/http"

	"github.com/tributary-ai/edge-router/internal/routing"
)

// ErrNotFound is returned by resolvers that do not know a name. It is the
// router's not-found sentinel, so the router can tell it from lookup
// failures.
var ErrNotFound = routing.ErrOriginNotFound

// Resolver maps an environment or branch name to the host serving it.
type Resolver interface {
	FindEnvByName(ctx context.Context, name string) (string, error)
}

// Fetcher performs the request against a resolved origin host.
type Fetcher interface {
	Fetch(ctx context.Context, host string, r *http.Request) (*http.Response, error)
}
