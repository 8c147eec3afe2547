package routing

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrNoPublicBranches is returned when no public branch carries a positive
// weight, so no environment can be picked for public traffic.
var ErrNoPublicBranches = errors.New("no public branch with a positive weight")

// PublicBranches maps an environment name to its relative traffic weight.
type PublicBranches map[string]float64

// Has reports whether name is a configured public environment.
func (b PublicBranches) Has(name string) bool {
	_, ok := b[name]
	return ok
}

// Validate checks that the weights can drive a selection.
func (b PublicBranches) Validate() error {
	total := 0.0
	for name, weight := range b {
		if name == "" {
			return errors.New("public branch with empty name")
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return fmt.Errorf("public branch %q has non-finite weight %v", name, weight)
		}
		if weight < 0 {
			return fmt.Errorf("public branch %q has negative weight %v", name, weight)
		}
		total += weight
	}
	if total <= 0 {
		return ErrNoPublicBranches
	}
	return nil
}

// Selector picks a public environment with probability proportional to its
// weight. It is immutable after construction and safe for concurrent use as
// long as the random source is.
type Selector struct {
	names      []string
	cumulative []float64
	random     func() float64
}

// NewSelector builds a selector over the positive-weight entries of branches.
// random must return values in [0, 1); nil uses math/rand.
func NewSelector(branches PublicBranches, random func() float64) (*Selector, error) {
	if err := branches.Validate(); err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.Float64
	}

	names := make([]string, 0, len(branches))
	for name, weight := range branches {
		if weight > 0 {
			names = append(names, name)
		}
	}
	// map order is random; sort so a fixed random sequence gives fixed picks
	sort.Strings(names)

	total := 0.0
	for _, name := range names {
		total += branches[name]
	}

	cumulative := make([]float64, len(names))
	sum := 0.0
	for i, name := range names {
		sum += branches[name]
		cumulative[i] = sum / total
	}
	cumulative[len(cumulative)-1] = 1

	return &Selector{
		names:      names,
		cumulative: cumulative,
		random:     random,
	}, nil
}

// Pick draws one environment name.
func (s *Selector) Pick() string {
	x := s.random()
	i := sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > x
	})
	if i == len(s.names) {
		i = len(s.names) - 1
	}
	return s.names[i]
}

// Share returns the probability with which name is picked.
func (s *Selector) Share(name string) float64 {
	prev := 0.0
	for i, n := range s.names {
		if n == name {
			return s.cumulative[i] - prev
		}
		prev = s.cumulative[i]
	}
	return 0
}

// Names returns the pickable environment names in sorted order.
func (s *Selector) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}
