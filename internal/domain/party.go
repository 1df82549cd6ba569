package domain

import (
	"context"
	"fmt"
)

// Party identifies a participant. Key is the stable identifier (a public key for oracles);
// Name is empty for pseudonymous parties until resolved.
type Party struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// IsAnonymous reports whether the party still needs resolving to a well-known identity.
func (p Party) IsAnonymous() bool {
	return p.Name == ""
}

// Is compares parties by key.
func (p Party) Is(other Party) bool {
	return p.Key != "" && p.Key == other.Key
}

func (p Party) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Key
}

// IdentityResolver maps a possibly pseudonymous party to its well-known identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, party Party) (Party, error)
}

// ResolveParty resolves p, leaving well-known parties untouched.
func ResolveParty(ctx context.Context, resolver IdentityResolver, p Party) (Party, error) {
	if !p.IsAnonymous() {
		return p, nil
	}
	if resolver == nil {
		return Party{}, fmt.Errorf("no resolver for anonymous party %s", p.Key)
	}
	return resolver.Resolve(ctx, p)
}
