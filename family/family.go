// Package family tracks the set of currently-valid refresh tokens per
// principal (the credential family). The family is the single source of
// truth for whether a cryptographically valid refresh token is still
// acceptable: a valid token absent from every family is the reuse
// signal.
package family

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrFamilyNotFound is returned when no stored family owns a token.
	ErrFamilyNotFound = errors.New("credential family not found")
	// ErrVersionConflict is returned by Replace when the stored family
	// changed since the snapshot was read.
	ErrVersionConflict = errors.New("credential family version conflict")
)

// Snapshot is one principal's credential family as observed at a point
// in time. Version supports optimistic compare-and-swap: Replace only
// succeeds when the stored family still has this version.
type Snapshot struct {
	PrincipalID string
	Tokens      []string
	Version     uint64
}

// Contains reports whether the snapshot holds the given token.
func (s *Snapshot) Contains(token string) bool {
	for _, t := range s.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Without returns the family tokens with the given token removed.
func (s *Snapshot) Without(token string) []string {
	retained := make([]string, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		if t != token {
			retained = append(retained, t)
		}
	}
	return retained
}

// Repo manages durable storage of credential families. Implementations
// must make every mutation a single atomic step: concurrent rotation
// attempts for one principal are serialized through Replace's
// compare-and-swap, so a retired token can never be resurrected by a
// racing writer.
type Repo interface {
	// FindByToken returns the family owning the token, or
	// ErrFamilyNotFound when no stored family contains it.
	FindByToken(ctx context.Context, token string) (*Snapshot, error)

	// Get returns the principal's current family. A principal with no
	// stored tokens yields an empty snapshot, not an error.
	Get(ctx context.Context, principalID string) (*Snapshot, error)

	// Replace atomically swaps the principal's family for the given
	// tokens, provided the stored version still matches snap.Version.
	// Returns ErrVersionConflict otherwise.
	Replace(ctx context.Context, snap *Snapshot, tokens []string) error

	// Add appends a newly issued token to the principal's family.
	Add(ctx context.Context, principalID, token string) error

	// Remove retires a single token from whichever family owns it.
	// Removing an unknown token is not an error.
	Remove(ctx context.Context, token string) error

	// Clear empties the principal's family, invalidating every
	// outstanding refresh token. Idempotent.
	Clear(ctx context.Context, principalID string) error
}
