package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnknownOrigin = fmt.Errorf("%w: unknown test name", ErrOriginNotFound)

var testOrigins = map[string]string{
	"master":      "master.origin.test",
	"beta":        "beta.origin.test",
	"feature-foo": "feature-foo.origin.test",
}

func testResolver(ctx context.Context, name string) (string, error) {
	if host, ok := testOrigins[name]; ok {
		return host, nil
	}
	return "", errUnknownOrigin
}

func isTestBot(userAgent string) bool {
	return strings.Contains(strings.ToLower(userAgent), "bot")
}

func createTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if opts.PublicBranches == nil {
		opts.PublicBranches = PublicBranches{"beta": 1, "master": 3}
	}
	if opts.Origins == nil {
		opts.Origins = OriginResolverFunc(testResolver)
	}
	if opts.Bots == nil {
		opts.Bots = BotDetectorFunc(isTestBot)
	}

	router, err := NewRouter(opts, logger)
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}
	return router
}

func fixedRandom(x float64) func() float64 {
	return func() float64 { return x }
}

func TestNewRouter_Validation(t *testing.T) {
	logger := logrus.New()
	resolver := OriginResolverFunc(testResolver)

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name:    "empty public branches",
			opts:    Options{PublicBranches: PublicBranches{}, Origins: resolver},
			wantErr: ErrNoPublicBranches,
		},
		{
			name:    "all weights zero",
			opts:    Options{PublicBranches: PublicBranches{"master": 0, "beta": 0}, Origins: resolver},
			wantErr: ErrNoPublicBranches,
		},
		{
			name: "missing resolver",
			opts: Options{PublicBranches: PublicBranches{"master": 1}},
		},
		{
			name: "primary not public",
			opts: Options{PublicBranches: PublicBranches{"beta": 1}, Origins: resolver},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewRouter(tt.opts, logger)
			require.Error(t, err)
			assert.Nil(t, router)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRouter_Decide_Precedence(t *testing.T) {
	router := createTestRouter(t, Options{Random: fixedRandom(0.1)})

	tests := []struct {
		name string
		rc   RequestContext
		want Decision
	}{
		{
			name: "fresh pick without cookies",
			rc:   RequestContext{Path: "/"},
			want: Decision{RequestedName: "beta", Kind: KindFresh, PublicName: "beta"},
		},
		{
			name: "valid env cookie is sticky",
			rc:   RequestContext{Cookies: map[string]string{"env": "master"}},
			want: Decision{RequestedName: "master", Kind: KindSticky, PublicName: "master"},
		},
		{
			name: "stale env cookie falls through to a fresh pick",
			rc:   RequestContext{Cookies: map[string]string{"env": "gamma"}},
			want: Decision{RequestedName: "beta", Kind: KindFresh, PublicName: "beta"},
		},
		{
			name: "bot is pinned to master over a valid env cookie",
			rc:   RequestContext{Cookies: map[string]string{"env": "beta"}, UserAgent: "Googlebot/2.1"},
			want: Decision{RequestedName: "master", Kind: KindBot, PublicName: "master", IsBot: true},
		},
		{
			name: "branch cookie wins over a valid env cookie",
			rc:   RequestContext{Cookies: map[string]string{"env": "master", "branch": "beta"}},
			want: Decision{RequestedName: "beta", Kind: KindOverride, PublicName: "master"},
		},
		{
			name: "branch query parameter overrides",
			rc:   RequestContext{Cookies: map[string]string{"env": "master"}, RawQuery: "branch=feature-foo"},
			want: Decision{RequestedName: "feature-foo", Kind: KindOverride, PublicName: "master"},
		},
		{
			name: "branch cookie wins over branch query parameter",
			rc:   RequestContext{Cookies: map[string]string{"branch": "beta"}, RawQuery: "branch=feature-foo"},
			want: Decision{RequestedName: "beta", Kind: KindOverride, PublicName: "beta"},
		},
		{
			name: "branch override wins over bot",
			rc:   RequestContext{RawQuery: "branch=feature-foo", UserAgent: "SomeBot"},
			want: Decision{RequestedName: "feature-foo", Kind: KindOverride, PublicName: "master", IsBot: true},
		},
		{
			name: "empty branch values are ignored",
			rc:   RequestContext{Cookies: map[string]string{"branch": "", "env": "beta"}, RawQuery: "branch="},
			want: Decision{RequestedName: "beta", Kind: KindSticky, PublicName: "beta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := router.Decide(tt.rc)
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(Decision{}, "Reasoning")); diff != "" {
				t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
			}
			if len(got.Reasoning) == 0 {
				t.Error("Decision should carry reasoning")
			}
		})
	}
}

func TestRouter_Decide_QueryEquivalentToCookie(t *testing.T) {
	router := createTestRouter(t, Options{Random: fixedRandom(0.9)})

	viaCookie := router.Decide(RequestContext{Cookies: map[string]string{"branch": "feature-foo", "env": "beta"}})
	viaQuery := router.Decide(RequestContext{Cookies: map[string]string{"env": "beta"}, RawQuery: "utm=x&branch=feature-foo"})

	if diff := cmp.Diff(viaCookie, viaQuery, cmpopts.IgnoreFields(Decision{}, "Reasoning")); diff != "" {
		t.Errorf("query and cookie overrides differ (-cookie +query):\n%s", diff)
	}
}

func TestRouter_Route_UnknownBranch(t *testing.T) {
	router := createTestRouter(t, Options{})

	plan, err := router.Route(context.Background(), RequestContext{RawQuery: "branch=does-not-exist"})
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)
	assert.ErrorIs(t, err, errUnknownOrigin)
	assert.Contains(t, err.Error(), "find")
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestRouter_Route_LookupFailure(t *testing.T) {
	timeout := errors.New("dns lookup of master.preview.test failed: read udp 10.0.0.2:53: i/o timeout")
	router := createTestRouter(t, Options{
		Origins: OriginResolverFunc(func(ctx context.Context, name string) (string, error) {
			return "", timeout
		}),
	})

	plan, err := router.Route(context.Background(), RequestContext{Cookies: map[string]string{"env": "master"}})
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrResolutionFailed)
	assert.ErrorIs(t, err, timeout)
	assert.NotErrorIs(t, err, ErrEnvironmentNotFound)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "master", resolveErr.Name)
	assert.False(t, resolveErr.NotFound)
	assert.Equal(t, `environment lookup failed "master"`, resolveErr.Message())
	assert.NotContains(t, resolveErr.Message(), "10.0.0.2")
}

func TestRouter_Route_NotFoundMessage(t *testing.T) {
	router := createTestRouter(t, Options{})

	_, err := router.Route(context.Background(), RequestContext{RawQuery: "branch=nope"})

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.True(t, resolveErr.NotFound)
	assert.NotErrorIs(t, err, ErrResolutionFailed)
	assert.Equal(t, `could not find environment "nope"`, resolveErr.Message())
}

func TestRouter_Route_EmptyHostIsNotFound(t *testing.T) {
	router := createTestRouter(t, Options{
		Origins: OriginResolverFunc(func(ctx context.Context, name string) (string, error) {
			return "", nil
		}),
	})

	_, err := router.Route(context.Background(), RequestContext{})
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)
}

func TestRouter_Route_Plans(t *testing.T) {
	tests := []struct {
		name             string
		rc               RequestContext
		pathAllowed      bool
		wantEnv          string
		wantCookie       string
		wantCacheControl string
	}{
		{
			name:        "fresh visitor gets a cookie",
			rc:          RequestContext{Path: "/"},
			pathAllowed: true,
			wantEnv:     "master",
			wantCookie:  "master",
		},
		{
			name:        "sticky visitor gets no cookie",
			rc:          RequestContext{Path: "/", Cookies: map[string]string{"env": "beta"}},
			pathAllowed: true,
			wantEnv:     "beta",
		},
		{
			name:        "stale cookie is overwritten",
			rc:          RequestContext{Path: "/", Cookies: map[string]string{"env": "old"}},
			pathAllowed: true,
			wantEnv:     "master",
			wantCookie:  "master",
		},
		{
			name:    "disallowed path gets no cookie",
			rc:      RequestContext{Path: "/api/data"},
			wantEnv: "master",
		},
		{
			name:             "override keeps the public assignment in the cookie",
			rc:               RequestContext{Path: "/", Cookies: map[string]string{"branch": "feature-foo"}},
			pathAllowed:      true,
			wantEnv:          "feature-foo",
			wantCookie:       "master",
			wantCacheControl: DefaultOverrideCacheControl,
		},
		{
			name:             "override with sticky cookie sets nothing",
			rc:               RequestContext{Path: "/", Cookies: map[string]string{"branch": "feature-foo", "env": "beta"}},
			pathAllowed:      true,
			wantEnv:          "feature-foo",
			wantCacheControl: DefaultOverrideCacheControl,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			router := createTestRouter(t, Options{
				Random: fixedRandom(0.5),
				Paths: PathPolicyFunc(func(path string) bool {
					calls++
					return tt.pathAllowed
				}),
			})

			plan, err := router.Route(context.Background(), tt.rc)
			require.NoError(t, err)

			assert.Equal(t, 1, calls, "path policy must be consulted exactly once")
			assert.Equal(t, tt.wantEnv, plan.Environment.Name)
			assert.Equal(t, testOrigins[tt.wantEnv], plan.Environment.OriginHost)
			assert.Equal(t, tt.wantCookie != "", plan.Cookie.Set)
			if tt.wantCookie != "" {
				assert.Equal(t, tt.wantCookie, plan.Cookie.Value)
			}
			assert.Equal(t, tt.wantCacheControl, plan.CacheControl)
		})
	}
}

func TestPlan_Decorate(t *testing.T) {
	router := createTestRouter(t, Options{Random: fixedRandom(0.5)})

	t.Run("public response keeps origin cache control", func(t *testing.T) {
		plan, err := router.Route(context.Background(), RequestContext{Path: "/"})
		require.NoError(t, err)

		h := http.Header{}
		h.Set("Cache-Control", "whatever")
		h.Add("Set-Cookie", "foo=bar; Path=/")
		plan.Decorate(h)

		assert.Equal(t, "whatever", h.Get("Cache-Control"))
		assert.Equal(t, []string{"foo=bar; Path=/", "env=master; Path=/; SameSite=Lax"}, h.Values("Set-Cookie"))
	})

	t.Run("override response is uncacheable", func(t *testing.T) {
		plan, err := router.Route(context.Background(), RequestContext{Path: "/", RawQuery: "branch=beta"})
		require.NoError(t, err)

		h := http.Header{}
		h.Set("Cache-Control", "public, max-age=600")
		plan.Decorate(h)

		assert.True(t, IsUncacheable(h.Get("Cache-Control")))
	})
}

func TestParseRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/products/1?branch=beta&x=1", nil)
	req.Header.Set("Cookie", "env=master; foo=bar; env=beta")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	rc := ParseRequest(req)

	assert.Equal(t, "/products/1", rc.Path)
	assert.Equal(t, "branch=beta&x=1", rc.RawQuery)
	assert.Equal(t, "Mozilla/5.0", rc.UserAgent)
	assert.Equal(t, map[string]string{"env": "master", "foo": "bar"}, rc.Cookies)

	branch, ok := rc.BranchOverride()
	assert.True(t, ok)
	assert.Equal(t, "beta", branch)
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader(`abc=1; env=beta; branch="feature-foo"`)
	assert.Equal(t, map[string]string{"abc": "1", "env": "beta", "branch": "feature-foo"}, cookies)

	assert.Empty(t, ParseCookieHeader(""))
}

func TestBranchFromQuery(t *testing.T) {
	tests := []struct {
		query  string
		want   string
		wantOK bool
	}{
		{"branch=beta", "beta", true},
		{"a=1&branch=feature%2Dfoo", "feature-foo", true},
		{"branch=", "", false},
		{"branches=beta", "", false},
		{"%zz&branch=beta", "beta", true},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := BranchFromQuery(tt.query)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BranchFromQuery(%q) = %q, %v; want %q, %v", tt.query, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "fresh", KindFresh.String())
	assert.Equal(t, "sticky", KindSticky.String())
	assert.Equal(t, "bot", KindBot.String())
	assert.Equal(t, "override", KindOverride.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindFresh, KindSticky, KindBot, KindOverride} {
		text, err := k.MarshalText()
		require.NoError(t, err)

		var got Kind
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, k, got)
	}

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("sideways")))
}
