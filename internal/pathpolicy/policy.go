// Package pathpolicy decides on which request paths the edge may issue
// cookies.
package pathpolicy

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Policy disallows Set-Cookie on paths matching any of its glob patterns.
// Patterns use '/' as separator: "*" stays within a segment, "**" spans
// segments.
type Policy struct {
	patterns []string
	globs    []glob.Glob
}

// New compiles the no-cookie patterns.
func New(patterns []string) (*Policy, error) {
	p := &Policy{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid no-cookie path pattern %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, pattern)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// IsSetCookieAllowedForPath reports whether the env cookie may be set on a
// response for path.
func (p *Policy) IsSetCookieAllowedForPath(path string) bool {
	for _, g := range p.globs {
		if g.Match(path) {
			return false
		}
	}
	return true
}

// Patterns returns the configured patterns.
func (p *Policy) Patterns() []string {
	return append([]string(nil), p.patterns...)
}
