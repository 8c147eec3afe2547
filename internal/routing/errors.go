package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrEnvironmentNotFound is returned when the origin resolver does not
	// know the requested environment or branch.
	ErrEnvironmentNotFound = errors.New("could not find environment")

	// ErrResolutionFailed is returned when the origin resolver could not
	// answer, e.g. a DNS timeout. The name may well exist.
	ErrResolutionFailed = errors.New("environment lookup failed")

	// ErrOriginNotFound is what an OriginResolver returns, possibly wrapped,
	// for a name it does not know. Any other resolver error is treated as a
	// lookup failure.
	ErrOriginNotFound = errors.New("origin not found")
)

// ResolveError reports a failed origin lookup for one requested name.
type ResolveError struct {
	Name     string
	NotFound bool
	Err      error
}

func (e *ResolveError) kind() error {
	if e.NotFound {
		return ErrEnvironmentNotFound
	}
	return ErrResolutionFailed
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q", e.kind(), e.Name)
	}
	return fmt.Sprintf("%s %q: %v", e.kind(), e.Name, e.Err)
}

// Unwrap exposes both the sentinel and the resolver's own error.
func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.kind()}
	}
	return []error{e.kind(), e.Err}
}

// Message describes the failure without resolver internals, for clients.
func (e *ResolveError) Message() string {
	return fmt.Sprintf("%s %q", e.kind(), e.Name)
}
