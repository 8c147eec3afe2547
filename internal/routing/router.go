package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPrimary is the environment bots are pinned to.
const DefaultPrimary = "master"

// Options configures a Router. Origins is required; a nil Bots never
// detects a bot and a nil Paths allows the cookie on every path.
type Options struct {
	PublicBranches       PublicBranches
	Primary              string
	Cookie               CookieSettings
	OverrideCacheControl string

	Origins OriginResolver
	Bots    BotDetector
	Paths   PathPolicy

	// Random overrides the selector's source of uniform values in [0, 1).
	Random func() float64
}

// Router decides which environment serves a request and how the response
// records that choice. It holds no per-request state.
type Router struct {
	branches     PublicBranches
	primary      string
	selector     *Selector
	cookie       CookieSettings
	cacheControl string

	origins OriginResolver
	bots    BotDetector
	paths   PathPolicy

	logger *logrus.Logger
}

// Plan is the routing outcome for one request: where it goes and how the
// origin response must be decorated.
type Plan struct {
	Decision     Decision            `json:"decision"`
	Environment  ResolvedEnvironment `json:"environment"`
	Cookie       CookiePlan          `json:"cookie"`
	CacheControl string              `json:"cache_control,omitempty"`
}

// NewRouter creates a router. Misconfigured public branches are fatal.
func NewRouter(opts Options, logger *logrus.Logger) (*Router, error) {
	if opts.Origins == nil {
		return nil, errors.New("origin resolver is required")
	}
	selector, err := NewSelector(opts.PublicBranches, opts.Random)
	if err != nil {
		return nil, fmt.Errorf("invalid public branches: %w", err)
	}

	primary := opts.Primary
	if primary == "" {
		primary = DefaultPrimary
	}
	if !opts.PublicBranches.Has(primary) {
		return nil, fmt.Errorf("primary environment %q is not a public branch", primary)
	}

	cacheControl := opts.OverrideCacheControl
	if cacheControl == "" {
		cacheControl = DefaultOverrideCacheControl
	}

	bots := opts.Bots
	if bots == nil {
		bots = noBots{}
	}
	paths := opts.Paths
	if paths == nil {
		paths = allowAllPaths{}
	}

	branches := make(PublicBranches, len(opts.PublicBranches))
	for name, weight := range opts.PublicBranches {
		branches[name] = weight
	}

	return &Router{
		branches:     branches,
		primary:      primary,
		selector:     selector,
		cookie:       opts.Cookie,
		cacheControl: cacheControl,
		origins:      opts.Origins,
		bots:         bots,
		paths:        paths,
		logger:       logger,
	}, nil
}

// Primary returns the environment bots are pinned to.
func (r *Router) Primary() string { return r.primary }

// PublicBranches returns a copy of the weight map.
func (r *Router) PublicBranches() PublicBranches {
	branches := make(PublicBranches, len(r.branches))
	for name, weight := range r.branches {
		branches[name] = weight
	}
	return branches
}

// Share returns the fraction of fresh public traffic name receives.
func (r *Router) Share(name string) float64 {
	return r.selector.Share(name)
}

// Decide applies the precedence chain: branch override, then bot, then a
// valid env cookie, then a fresh weighted pick.
func (r *Router) Decide(rc RequestContext) Decision {
	isBot := r.bots.IsBot(rc.UserAgent)
	public, kind, reasons := r.publicAssignment(rc, isBot)

	if branch, ok := rc.BranchOverride(); ok {
		return Decision{
			RequestedName: branch,
			Kind:          KindOverride,
			PublicName:    public,
			IsBot:         isBot,
			Reasoning:     append([]string{fmt.Sprintf("branch override %q requested", branch)}, reasons...),
		}
	}

	return Decision{
		RequestedName: public,
		Kind:          kind,
		PublicName:    public,
		IsBot:         isBot,
		Reasoning:     reasons,
	}
}

// publicAssignment is the environment the visitor belongs to when no branch
// preview is involved.
func (r *Router) publicAssignment(rc RequestContext, isBot bool) (string, Kind, []string) {
	if isBot {
		return r.primary, KindBot, []string{"bot user agent pinned to " + r.primary}
	}

	env, ok := rc.Cookie(EnvCookie)
	if ok && r.branches.Has(env) {
		return env, KindSticky, []string{fmt.Sprintf("env cookie %q is a public branch", env)}
	}

	reasons := make([]string, 0, 2)
	if ok {
		reasons = append(reasons, fmt.Sprintf("env cookie %q is not a public branch", env))
	}
	picked := r.selector.Pick()
	reasons = append(reasons, fmt.Sprintf("weighted pick %q", picked))
	return picked, KindFresh, reasons
}

// Resolve looks up the origin host of the decision's requested name. Failures
// are a *ResolveError matching ErrEnvironmentNotFound or ErrResolutionFailed.
func (r *Router) Resolve(ctx context.Context, d Decision) (ResolvedEnvironment, error) {
	host, err := r.origins.FindEnvByName(ctx, d.RequestedName)
	if err != nil {
		return ResolvedEnvironment{}, &ResolveError{
			Name:     d.RequestedName,
			NotFound: errors.Is(err, ErrOriginNotFound),
			Err:      err,
		}
	}
	if host == "" {
		return ResolvedEnvironment{}, &ResolveError{Name: d.RequestedName, NotFound: true}
	}
	return ResolvedEnvironment{Name: d.RequestedName, OriginHost: host}, nil
}

// Route runs the whole decision for one request. A resolution failure is
// returned to the caller; no origin is guessed.
func (r *Router) Route(ctx context.Context, rc RequestContext) (*Plan, error) {
	start := time.Now()

	decision := r.Decide(rc)
	env, err := r.Resolve(ctx, decision)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"requested": decision.RequestedName,
			"kind":      decision.Kind.String(),
			"path":      rc.Path,
		}).Warn("Environment resolution failed")
		return nil, err
	}

	plan := &Plan{
		Decision:    decision,
		Environment: env,
		Cookie:      PlanCookie(decision, rc, r.paths, r.cookie),
	}
	if decision.IsOverride() {
		plan.CacheControl = r.cacheControl
	}

	r.logger.WithFields(logrus.Fields{
		"env":         env.Name,
		"origin":      env.OriginHost,
		"kind":        decision.Kind.String(),
		"bot":         decision.IsBot,
		"cookie_set":  plan.Cookie.Set,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Request routed")

	return plan, nil
}

// Decorate applies the env cookie and Cache-Control adjustments to the
// origin response headers.
func (p *Plan) Decorate(h http.Header) {
	p.Cookie.Apply(h)
	AdjustCacheControl(h, p.Decision, p.CacheControl)
}
