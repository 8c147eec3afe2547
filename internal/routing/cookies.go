package routing

import (
	"net/http"
	"strings"
	"time"
)

// SetCookieHeader is the response header carrying cookies.
const SetCookieHeader = "Set-Cookie"

// CookieSettings are the attributes of the emitted env cookie.
type CookieSettings struct {
	MaxAge time.Duration `yaml:"max_age"`
	Domain string        `yaml:"domain"`
	Secure bool          `yaml:"secure"`
}

// CookiePlan describes what happens to the env cookie on the response.
type CookiePlan struct {
	// Set is true when the response must carry a new env cookie.
	Set bool `json:"set"`

	// Value is the visitor's public environment, emitted or not.
	Value string `json:"value"`

	// PathAllowed is the path policy verdict for the request.
	PathAllowed bool `json:"path_allowed"`

	settings CookieSettings
}

// PlanCookie decides whether the env cookie is written. The path policy is
// consulted exactly once. The cookie is emitted only when the assigned
// public environment differs from the request's env cookie and the path
// allows it.
func PlanCookie(d Decision, rc RequestContext, paths PathPolicy, settings CookieSettings) CookiePlan {
	if paths == nil {
		paths = allowAllPaths{}
	}
	plan := CookiePlan{
		Value:       d.PublicName,
		PathAllowed: paths.IsSetCookieAllowedForPath(rc.Path),
		settings:    settings,
	}
	if !plan.PathAllowed || d.PublicName == "" {
		return plan
	}
	if existing, ok := rc.Cookie(EnvCookie); ok && existing == d.PublicName {
		return plan
	}
	plan.Set = true
	return plan
}

// Cookie returns the env cookie to emit, or nil when nothing is set.
func (p CookiePlan) Cookie() *http.Cookie {
	if !p.Set {
		return nil
	}
	return &http.Cookie{
		Name:     EnvCookie,
		Value:    p.Value,
		Path:     "/",
		Domain:   p.settings.Domain,
		MaxAge:   int(p.settings.MaxAge.Seconds()),
		Secure:   p.settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Apply writes the plan to response headers. Set-Cookie lines for any other
// cookie are left exactly as they were; an origin-supplied env cookie is
// replaced when the plan sets one.
func (p CookiePlan) Apply(h http.Header) {
	c := p.Cookie()
	if c == nil {
		return
	}

	var kept []string
	for _, line := range h.Values(SetCookieHeader) {
		if setCookieName(line) != EnvCookie {
			kept = append(kept, line)
		}
	}
	h.Del(SetCookieHeader)
	for _, line := range kept {
		h.Add(SetCookieHeader, line)
	}
	h.Add(SetCookieHeader, c.String())
}

func setCookieName(line string) string {
	name, _, _ := strings.Cut(line, "=")
	return strings.TrimSpace(name)
}
