package types

import (
	"github.com/tributary-ai/edge-router/internal/routing"
)

// DecisionRequest describes a visitor request for a routing dry-run
type DecisionRequest struct {
	Path         string            `json:"path,omitempty"`
	Query        string            `json:"query,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	CookieHeader string            `json:"cookie_header,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
}

// RequestContext converts the dry-run request into the routing view of a
// request. Explicit cookies win over those in CookieHeader. An empty path
// is "/".
func (r *DecisionRequest) RequestContext() routing.RequestContext {
	cookies := routing.ParseCookieHeader(r.CookieHeader)
	for name, value := range r.Cookies {
		cookies[name] = value
	}

	path := r.Path
	if path == "" {
		path = "/"
	}

	return routing.RequestContext{
		Cookies:   cookies,
		RawQuery:  r.Query,
		Path:      path,
		UserAgent: r.UserAgent,
	}
}
