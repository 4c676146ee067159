// Package access decides whether a principal may act on an object. The
// check is two-stage and the stages are never collapsed: a mandatory gate
// against the object's classification marking, then a discretionary union
// of direct and inherited grants. Full discretionary rights never overcome
// a failed marking check.
package access

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"odrive/pkg/acm"
	"odrive/pkg/grants"
	"odrive/pkg/hierarchy"
	"odrive/pkg/types"
)

// ObjectSource supplies object records to the evaluator. Implemented by
// the directory service's object table.
type ObjectSource interface {
	GetObject(id types.ObjectID) (*types.Object, bool)
}

type cacheEntry struct {
	dominated bool
	flags     types.PermissionFlags
	expiresAt time.Time
}

// Evaluator computes effective access. Decisions are cached briefly and
// the whole cache is dropped whenever any grant or hierarchy mutation
// lands; correctness never depends on the cache.
type Evaluator struct {
	objects   ObjectSource
	grants    *grants.Store
	hierarchy *hierarchy.Index
	logger    *zap.Logger

	cacheMu  sync.Mutex
	cache    map[string]*cacheEntry
	cacheTTL time.Duration
}

func NewEvaluator(objects ObjectSource, gs *grants.Store, ix *hierarchy.Index, logger *zap.Logger) *Evaluator {
	e := &Evaluator{
		objects:   objects,
		grants:    gs,
		hierarchy: ix,
		logger:    logger,
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  time.Minute,
	}
	gs.OnChange(e.InvalidateAll)
	ix.OnChange(e.InvalidateAll)
	return e
}

// SetCacheTTL adjusts the decision cache lifetime (tests use a zero TTL).
func (e *Evaluator) SetCacheTTL(ttl time.Duration) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cacheTTL = ttl
	e.cache = make(map[string]*cacheEntry)
}

// InvalidateAll drops every cached decision. Cheap to call and called
// often: any share with propagation or any hierarchy change can alter the
// effective flags of an unbounded set of descendants.
func (e *Evaluator) InvalidateAll() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache = make(map[string]*cacheEntry)
}

// CanPerform reports whether the principal may take the action on the
// object. Unknown objects evaluate to false rather than an error; the
// directory service distinguishes not-found separately.
func (e *Evaluator) CanPerform(principal *types.Principal, objectID types.ObjectID, action types.Action) bool {
	dominated, flags, err := e.evaluate(principal, objectID)
	if err != nil {
		e.logger.Warn("access evaluation failed",
			zap.String("object", string(objectID)),
			zap.String("grantee", string(principal.ID)),
			zap.Error(err))
		return false
	}
	if !dominated {
		return false
	}
	return flags.Has(action)
}

// EffectiveFlags returns the discretionary flag union for the pair,
// regardless of the marking gate. Used by the shared views to describe a
// grant without implying readability.
func (e *Evaluator) EffectiveFlags(principal *types.Principal, objectID types.ObjectID) (types.PermissionFlags, error) {
	_, flags, err := e.evaluate(principal, objectID)
	return flags, err
}

func (e *Evaluator) evaluate(principal *types.Principal, objectID types.ObjectID) (bool, types.PermissionFlags, error) {
	key := string(objectID) + ":" + string(principal.ID)

	e.cacheMu.Lock()
	if entry, ok := e.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		dominated, flags := entry.dominated, entry.flags
		e.cacheMu.Unlock()
		return dominated, flags, nil
	}
	e.cacheMu.Unlock()

	obj, ok := e.objects.GetObject(objectID)
	if !ok {
		return false, types.PermissionFlags{}, fmt.Errorf("access: unknown object %s", objectID)
	}

	// Stage 1: mandatory marking gate.
	marking, err := acm.Parse([]byte(obj.RawACM))
	if err != nil {
		// A stored object with an unparseable marking is an integrity
		// failure; deny and surface the cause.
		return false, types.PermissionFlags{}, fmt.Errorf("access: stored acm unreadable: %w", err)
	}
	dominated := acm.Dominates(principal.Attributes, marking)

	// Stage 2: discretionary union of the direct grant and every
	// propagating ancestor grant.
	var flags types.PermissionFlags
	if g, ok := e.grants.Get(objectID, principal.ID); ok {
		flags = flags.Union(g.Flags)
	}
	ancestors, err := e.hierarchy.AncestorsOf(objectID)
	if err != nil {
		return false, types.PermissionFlags{}, err
	}
	for _, ancestorID := range ancestors {
		if g, ok := e.grants.Get(ancestorID, principal.ID); ok && g.PropagateToChildren {
			flags = flags.Union(g.Flags)
		}
	}

	e.cacheMu.Lock()
	e.cache[key] = &cacheEntry{
		dominated: dominated,
		flags:     flags,
		expiresAt: time.Now().Add(e.cacheTTL),
	}
	e.cacheMu.Unlock()

	return dominated, flags, nil
}
