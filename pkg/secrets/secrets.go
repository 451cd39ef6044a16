// Package secrets implements the Secret Store contract of spec.md §4.3:
// lookup of named secret references from an OS keychain, optional and
// desktop-only. Grounded on pkg/security/secrets.go's capability-probe
// shape — NewSecretsManager there fails closed without a key; here the
// Store fails closed ("unavailable") without a real keychain backend,
// treating absence as a feature flag per spec.md §9 rather than an
// error at construction time.
package secrets

import (
	"github.com/systemsculpt/studio/pkg/studioerr"
)

// Backend is the narrow contract over a real OS keychain. Hosts that can
// supply one implement it; hosts that can't leave Store without a backend
// and every lookup fails with SecretUnavailable.
type Backend interface {
	Lookup(referenceID string) (string, bool, error)
}

// Store is the Secret Store. A nil backend means the keychain is
// unavailable on this host.
type Store struct {
	backend Backend
}

// New returns a Store backed by backend. Pass nil for hosts with no
// keychain integration (e.g. headless/CI).
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// IsAvailable reports whether a real keychain backend is present.
func (s *Store) IsAvailable() bool {
	return s.backend != nil
}

// GetSecret resolves a named secret reference. Fails with
// SecretUnavailable if no backend is present or the reference is unknown.
func (s *Store) GetSecret(referenceID string) (string, error) {
	if s.backend == nil {
		return "", &studioerr.SecretUnavailable{Ref: referenceID}
	}
	value, ok, err := s.backend.Lookup(referenceID)
	if err != nil {
		return "", &studioerr.SecretUnavailable{Ref: referenceID}
	}
	if !ok {
		return "", &studioerr.SecretUnavailable{Ref: referenceID}
	}
	return value, nil
}
