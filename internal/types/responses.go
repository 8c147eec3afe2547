package types

import (
	"sort"

	"github.com/tributary-ai/edge-router/internal/routing"
)

// HealthResponse is returned by the liveness endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Environment is one public branch and its share of fresh traffic
type Environment struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Share   float64 `json:"share"`
	Primary bool    `json:"primary"`
}

// EnvironmentsResponse lists the public branches
type EnvironmentsResponse struct {
	Environments []Environment `json:"environments"`
	Primary      string        `json:"primary"`
}

// NewEnvironmentsResponse lists the router's public branches sorted by name.
func NewEnvironmentsResponse(router *routing.Router) *EnvironmentsResponse {
	branches := router.PublicBranches()
	resp := &EnvironmentsResponse{
		Environments: make([]Environment, 0, len(branches)),
		Primary:      router.Primary(),
	}
	for name, weight := range branches {
		resp.Environments = append(resp.Environments, Environment{
			Name:    name,
			Weight:  weight,
			Share:   router.Share(name),
			Primary: name == router.Primary(),
		})
	}
	sort.Slice(resp.Environments, func(i, j int) bool {
		return resp.Environments[i].Name < resp.Environments[j].Name
	})
	return resp
}

// DecisionResponse is the outcome of a routing dry-run
type DecisionResponse struct {
	Decision          routing.Decision `json:"decision"`
	OriginHost        string           `json:"origin_host"`
	Override          bool             `json:"override"`
	SetCookie         string           `json:"set_cookie,omitempty"`
	CookiePathAllowed bool             `json:"cookie_path_allowed"`
	CacheControl      string           `json:"cache_control,omitempty"`
}

// NewDecisionResponse describes what the edge would do with plan.
func NewDecisionResponse(plan *routing.Plan) *DecisionResponse {
	resp := &DecisionResponse{
		Decision:          plan.Decision,
		OriginHost:        plan.Environment.OriginHost,
		Override:          plan.Decision.IsOverride(),
		CookiePathAllowed: plan.Cookie.PathAllowed,
		CacheControl:      plan.CacheControl,
	}
	if cookie := plan.Cookie.Cookie(); cookie != nil {
		resp.SetCookie = cookie.String()
	}
	return resp
}
