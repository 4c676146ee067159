// Package token implements the change-token guard that serializes mutation
// per object. Every mutating operation must present the token the caller
// last observed; a mismatch fails fast with no mutation.
package token

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"odrive/pkg/types"
)

var (
	// ErrStaleToken means another mutation won the race. The caller must
	// re-fetch and retry with the fresh token; the guard never retries.
	ErrStaleToken = errors.New("token: supplied change token is stale")

	// ErrUnknownObject means no token was ever issued for the object id.
	ErrUnknownObject = errors.New("token: no token issued for object")
)

type entry struct {
	mu      sync.Mutex
	current string
}

// Guard issues and verifies opaque change tokens. Each object gets its own
// lock, so mutations on distinct objects never contend.
type Guard struct {
	mu      sync.RWMutex
	entries map[types.ObjectID]*entry
}

func NewGuard() *Guard {
	return &Guard{entries: make(map[types.ObjectID]*entry)}
}

// newToken returns an unpredictable token. Random UUIDs carry no ordering
// and cannot be guessed from a previous value.
func newToken() string {
	return uuid.NewString()
}

// Issue creates the first token for a newly created object. Re-issuing for
// an existing object replaces its token (used when restoring persisted
// state).
func (g *Guard) Issue(id types.ObjectID) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		e = &entry{}
		g.entries[id] = e
	}
	e.current = newToken()
	return e.current
}

// Adopt registers an externally persisted token, preserving it across
// restarts so clients holding it stay valid.
func (g *Guard) Adopt(id types.ObjectID, tok string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		e = &entry{}
		g.entries[id] = e
	}
	e.current = tok
}

// Current returns the token a caller must present to mutate the object.
func (g *Guard) Current(id types.ObjectID) (string, error) {
	g.mu.RLock()
	e, ok := g.entries[id]
	g.mu.RUnlock()
	if !ok {
		return "", ErrUnknownObject
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, nil
}

// CheckAndAdvance atomically verifies the supplied token and replaces it.
// On mismatch nothing changes and ErrStaleToken is returned.
func (g *Guard) CheckAndAdvance(id types.ObjectID, supplied string) (string, error) {
	return g.WithToken(id, supplied, func(string) error { return nil })
}

// WithToken runs fn inside the object's critical section after verifying
// the supplied token. fn receives the token that becomes current once it
// succeeds, so callers can record the new value, and persist it, before
// any other mutation on the object can start. If fn fails the token is
// left untouched and the caller may retry with the same value.
func (g *Guard) WithToken(id types.ObjectID, supplied string, fn func(next string) error) (string, error) {
	g.mu.RLock()
	e, ok := g.entries[id]
	g.mu.RUnlock()
	if !ok {
		return "", ErrUnknownObject
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != supplied {
		return "", ErrStaleToken
	}
	next := newToken()
	if err := fn(next); err != nil {
		return "", err
	}
	e.current = next
	return next, nil
}
