// Package grants holds the discretionary permission records. Storage is a
// single record per (object, grantee) pair; effect is additive and computed
// by the access evaluator, so replacing a record with fewer flags
// immediately shrinks evaluated access.
package grants

import (
	"sync"
	"time"

	"odrive/pkg/types"
)

// Store keeps grants indexed both by object and by grantee so the
// shared-with-me and shared-by-me views need no scan.
type Store struct {
	mu        sync.RWMutex
	byObject  map[types.ObjectID]map[types.GranteeID]*types.Grant
	byGrantee map[types.GranteeID]map[types.ObjectID]*types.Grant

	// onChange fires after every mutation while the write lock is held;
	// callbacks must not re-enter the store.
	onChange func()
}

func NewStore() *Store {
	return &Store{
		byObject:  make(map[types.ObjectID]map[types.GranteeID]*types.Grant),
		byGrantee: make(map[types.GranteeID]map[types.ObjectID]*types.Grant),
	}
}

// OnChange registers a callback fired after every grant mutation. The
// access evaluator hooks this to drop its decision cache.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Upsert creates or fully replaces the grant for (objectID, granteeID).
// Last writer wins.
func (s *Store) Upsert(objectID types.ObjectID, granteeID types.GranteeID, flags types.PermissionFlags, propagate bool, createdBy types.GranteeID) *types.Grant {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := &types.Grant{
		ObjectID:            objectID,
		GranteeID:           granteeID,
		Flags:               flags,
		PropagateToChildren: propagate,
		CreatedBy:           createdBy,
		CreatedDate:         time.Now(),
	}

	if s.byObject[objectID] == nil {
		s.byObject[objectID] = make(map[types.GranteeID]*types.Grant)
	}
	s.byObject[objectID][granteeID] = g

	if s.byGrantee[granteeID] == nil {
		s.byGrantee[granteeID] = make(map[types.ObjectID]*types.Grant)
	}
	s.byGrantee[granteeID][objectID] = g

	s.fireChange()
	return copyGrant(g)
}

// Get returns the direct grant for the pair, if any.
func (s *Store) Get(objectID types.ObjectID, granteeID types.GranteeID) (*types.Grant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.byObject[objectID][granteeID]
	if !ok {
		return nil, false
	}
	return copyGrant(g), true
}

// ListDirect returns every grant defined directly on the object.
func (s *Store) ListDirect(objectID types.ObjectID) []*types.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Grant, 0, len(s.byObject[objectID]))
	for _, g := range s.byObject[objectID] {
		out = append(out, copyGrant(g))
	}
	return out
}

// ListForGrantee returns every grant naming the grantee, across all
// objects. Backs the shared-with-me view.
func (s *Store) ListForGrantee(granteeID types.GranteeID) []*types.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Grant, 0, len(s.byGrantee[granteeID]))
	for _, g := range s.byGrantee[granteeID] {
		out = append(out, copyGrant(g))
	}
	return out
}

// ListGrantedBy returns every grant the given principal created for some
// other grantee. Backs the shared-by-me view.
func (s *Store) ListGrantedBy(creatorID types.GranteeID) []*types.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Grant
	for _, grantees := range s.byObject {
		for _, g := range grantees {
			if g.CreatedBy == creatorID && g.GranteeID != creatorID {
				out = append(out, copyGrant(g))
			}
		}
	}
	return out
}

// Revoke removes the grant for the pair. Removing a propagating grant
// immediately withdraws inherited access from every descendant.
func (s *Store) Revoke(objectID types.ObjectID, granteeID types.GranteeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grantees, ok := s.byObject[objectID]; ok {
		delete(grantees, granteeID)
		if len(grantees) == 0 {
			delete(s.byObject, objectID)
		}
	}
	if objects, ok := s.byGrantee[granteeID]; ok {
		delete(objects, objectID)
		if len(objects) == 0 {
			delete(s.byGrantee, granteeID)
		}
	}
	s.fireChange()
}

// RevokeAllForObject drops every grant on the object.
func (s *Store) RevokeAllForObject(objectID types.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for granteeID := range s.byObject[objectID] {
		if objects, ok := s.byGrantee[granteeID]; ok {
			delete(objects, objectID)
			if len(objects) == 0 {
				delete(s.byGrantee, granteeID)
			}
		}
	}
	delete(s.byObject, objectID)
	s.fireChange()
}

// Restore reinstates a persisted grant record verbatim, bypassing the
// timestamp reset Upsert performs. Used when loading from the DAO.
func (s *Store) Restore(g types.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := g
	if s.byObject[g.ObjectID] == nil {
		s.byObject[g.ObjectID] = make(map[types.GranteeID]*types.Grant)
	}
	s.byObject[g.ObjectID][g.GranteeID] = &stored

	if s.byGrantee[g.GranteeID] == nil {
		s.byGrantee[g.GranteeID] = make(map[types.ObjectID]*types.Grant)
	}
	s.byGrantee[g.GranteeID][g.ObjectID] = &stored
}

func (s *Store) fireChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

func copyGrant(g *types.Grant) *types.Grant {
	c := *g
	return &c
}
