// Package identity defines the external identity collaborator. Principals
// and their clearance attributes are resolved here and never created by
// the core.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"odrive/pkg/types"
)

// ErrUnauthenticated is returned when a credential cannot be resolved to a
// principal.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Resolver turns a presented credential (a distinguished name from the
// transport layer) into a principal with clearance attributes.
type Resolver interface {
	ResolvePrincipal(ctx context.Context, credential string) (*types.Principal, error)
}

// Record is one registered identity in the static resolver.
type Record struct {
	DistinguishedName string
	DisplayName       string
	Attributes        types.UserAttributes
}

// StaticResolver resolves principals from an in-process registry. It
// stands in for the production attribute service in tests and single-node
// deployments.
type StaticResolver struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{records: make(map[string]Record)}
}

// Register adds or replaces an identity record keyed by distinguished name.
func (r *StaticResolver) Register(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[normalizeDN(rec.DistinguishedName)] = rec
}

// ResolvePrincipal looks up the credential as a distinguished name.
func (r *StaticResolver) ResolvePrincipal(ctx context.Context, credential string) (*types.Principal, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	r.mu.RLock()
	rec, ok := r.records[normalizeDN(credential)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnauthenticated
	}

	return &types.Principal{
		ID:                types.GranteeID(normalizeDN(rec.DistinguishedName)),
		DistinguishedName: rec.DistinguishedName,
		DisplayName:       rec.DisplayName,
		Attributes:        rec.Attributes,
	}, nil
}

// normalizeDN lowercases and strips spacing around RDN separators so the
// same identity written differently still matches.
func normalizeDN(dn string) string {
	parts := strings.Split(strings.ToLower(dn), ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}
