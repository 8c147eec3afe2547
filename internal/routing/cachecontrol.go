package routing

import (
	"net/http"
	"strings"
)

// DefaultOverrideCacheControl keeps preview responses out of shared caches.
const DefaultOverrideCacheControl = "no-store, s-maxage=0"

var uncacheableDirectives = []string{"no-store", "proxy-revalidate", "must-revalidate", "s-maxage=0"}

// IsUncacheable reports whether a Cache-Control value stops CDN caching.
func IsUncacheable(cacheControl string) bool {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, d := range uncacheableDirectives {
			if part == d {
				return true
			}
		}
	}
	return false
}

// AdjustCacheControl forces directive onto branch override responses. Public
// responses keep whatever Cache-Control the origin sent, byte for byte.
func AdjustCacheControl(h http.Header, d Decision, directive string) {
	if !d.IsOverride() {
		return
	}
	if directive == "" {
		directive = DefaultOverrideCacheControl
	}
	h.Set("Cache-Control", directive)
}
