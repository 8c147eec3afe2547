package origin

import (
	"context"
	"errors"
	"fmt"
)

// ChainResolver asks each resolver in turn; the first one that knows the
// name wins.
type ChainResolver []Resolver

// FindEnvByName returns the first successful resolution. Errors other than
// ErrNotFound are reported if no resolver knows the name.
func (c ChainResolver) FindEnvByName(ctx context.Context, name string) (string, error) {
	var failures []error
	for _, r := range c {
		host, err := r.FindEnvByName(ctx, name)
		if err == nil && host != "" {
			return host, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return "", fmt.Errorf("resolving %q: %w", name, errors.Join(failures...))
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}
