package origin

import (
	"context"
	"fmt"
)

// StaticResolver resolves names from a fixed map, typically the public
// environments listed in configuration.
type StaticResolver struct {
	hosts map[string]string
}

// NewStaticResolver copies hosts into a new resolver.
func NewStaticResolver(hosts map[string]string) *StaticResolver {
	m := make(map[string]string, len(hosts))
	for name, host := range hosts {
		m[name] = host
	}
	return &StaticResolver{hosts: m}
}

// FindEnvByName returns the configured host for name.
func (s *StaticResolver) FindEnvByName(ctx context.Context, name string) (string, error) {
	host, ok := s.hosts[name]
	if !ok || host == "" {
		return "", fmt.Errorf("%w: no static origin for %q", ErrNotFound, name)
	}
	return host, nil
}

// Names lists the names the resolver knows.
func (s *StaticResolver) Names() []string {
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	return names
}
