package routing

import "fmt"

// Kind tags which precedence rule produced a Decision.
type Kind int

const (
	// KindFresh is a new weighted pick from the public branches.
	KindFresh Kind = iota
	// KindSticky reuses a valid env cookie.
	KindSticky
	// KindBot pins a bot to the primary environment.
	KindBot
	// KindOverride serves a branch requested via cookie or query string.
	KindOverride
)

func (k Kind) String() string {
	switch k {
	case KindFresh:
		return "fresh"
	case KindSticky:
		return "sticky"
	case KindBot:
		return "bot"
	case KindOverride:
		return "override"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind appear by name in JSON and logs.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a Kind name as written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{KindFresh, KindSticky, KindBot, KindOverride} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decision kind %q", text)
}

// Decision is the outcome of the routing precedence chain for one request.
type Decision struct {
	// RequestedName is the environment or branch to resolve.
	RequestedName string `json:"requested_name"`

	// Kind records the rule that chose RequestedName.
	Kind Kind `json:"kind"`

	// PublicName is the visitor's public environment assignment, the value
	// the env cookie should carry. It equals RequestedName unless the
	// request is a branch override.
	PublicName string `json:"public_name"`

	// IsBot is the bot detector's verdict on the User-Agent.
	IsBot bool `json:"is_bot"`

	// Reasoning is a human-readable trail of the checks that led here.
	Reasoning []string `json:"reasoning"`
}

// IsOverride reports whether the name came from a branch cookie or query
// parameter rather than the public pool or an existing env cookie.
func (d Decision) IsOverride() bool {
	return d.Kind == KindOverride
}

// ResolvedEnvironment is a requested name together with the origin host
// serving it.
type ResolvedEnvironment struct {
	Name       string `json:"name"`
	OriginHost string `json:"origin_host"`
}
