package routing

import (
	"net/http"
	"net/url"
)

const (
	// EnvCookie holds the visitor's public environment assignment.
	EnvCookie = "env"

	// BranchParam names both the cookie and the query parameter that opt a
	// request into a preview branch.
	BranchParam = "branch"
)

// RequestContext is the part of an inbound request the routing decision reads.
type RequestContext struct {
	Cookies   map[string]string
	RawQuery  string
	Path      string
	UserAgent string
}

// ParseRequest snapshots r into a RequestContext.
func ParseRequest(r *http.Request) RequestContext {
	return RequestContext{
		Cookies:   cookieMap(r.Cookies()),
		RawQuery:  r.URL.RawQuery,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
	}
}

// ParseCookieHeader parses a raw Cookie header value into name/value pairs.
// Malformed pairs are skipped. The first occurrence of a name wins.
func ParseCookieHeader(header string) map[string]string {
	r := &http.Request{Header: http.Header{"Cookie": {header}}}
	return cookieMap(r.Cookies())
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if _, seen := m[c.Name]; !seen {
			m[c.Name] = c.Value
		}
	}
	return m
}

// Cookie returns the request cookie name, reporting false when it is absent
// or empty.
func (rc RequestContext) Cookie(name string) (string, bool) {
	v, ok := rc.Cookies[name]
	return v, ok && v != ""
}

// BranchFromQuery extracts the branch parameter from a raw query string.
func BranchFromQuery(rawQuery string) (string, bool) {
	// ParseQuery keeps the pairs it could decode even when it returns an error
	values, _ := url.ParseQuery(rawQuery)
	branch := values.Get(BranchParam)
	return branch, branch != ""
}

// BranchOverride returns the preview branch requested by the client. The
// branch cookie takes precedence over the query parameter.
func (rc RequestContext) BranchOverride() (string, bool) {
	if branch, ok := rc.Cookie(BranchParam); ok {
		return branch, true
	}
	return BranchFromQuery(rc.RawQuery)
}
