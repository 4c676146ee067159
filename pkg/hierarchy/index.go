// Package hierarchy maintains the parent/child structure of the drive and
// answers ancestry questions for grant propagation and listing. A single
// writer lock covers structural mutation, which gives move a consistent
// view of both ancestor chains without per-path lock ordering.
package hierarchy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"odrive/pkg/types"
)

var (
	// ErrCycleDetected rejects a move that would make a folder its own
	// descendant.
	ErrCycleDetected = errors.New("hierarchy: move would create a cycle")

	// ErrUnknownObject means the id was never added to the index.
	ErrUnknownObject = errors.New("hierarchy: unknown object")

	// ErrIntegrity indicates a dangling parent reference. This is a prior
	// invariant violation, not a recoverable condition.
	ErrIntegrity = errors.New("hierarchy: index integrity violation")
)

// RootID is the parent id of root-level objects.
const RootID types.ObjectID = ""

type node struct {
	parent   types.ObjectID
	children []types.ObjectID // creation order
	seq      uint64
}

// Index is the in-memory tree. children slices keep insertion order so
// paging over unchanged siblings is stable across requests.
type Index struct {
	mu       sync.RWMutex
	nodes    map[types.ObjectID]*node
	roots    []types.ObjectID
	seq      uint64
	revision uint64

	onChange func()
}

func NewIndex() *Index {
	return &Index{nodes: make(map[types.ObjectID]*node)}
}

// OnChange registers a callback fired after every structural mutation.
func (ix *Index) OnChange(fn func()) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.onChange = fn
}

// Revision returns the current structure revision. It advances on every
// add, move, or remove.
func (ix *Index) Revision() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.revision
}

// Add registers a new object beneath parentID (RootID for top level).
func (ix *Index) Add(id, parentID types.ObjectID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.nodes[id]; exists {
		return fmt.Errorf("hierarchy: object %s already indexed", id)
	}
	if parentID != RootID {
		if _, ok := ix.nodes[parentID]; !ok {
			return fmt.Errorf("%w: parent %s", ErrUnknownObject, parentID)
		}
	}

	ix.seq++
	ix.nodes[id] = &node{parent: parentID, seq: ix.seq}
	if parentID == RootID {
		ix.roots = append(ix.roots, id)
	} else {
		p := ix.nodes[parentID]
		p.children = append(p.children, id)
	}
	ix.bump()
	return nil
}

// AncestorsOf returns the chain of ancestor ids, nearest first, ending at
// a root. The result never contains the object itself.
func (ix *Index) AncestorsOf(id types.ObjectID) ([]types.ObjectID, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ancestorsLocked(id)
}

func (ix *Index) ancestorsLocked(id types.ObjectID) ([]types.ObjectID, error) {
	n, ok := ix.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}

	var chain []types.ObjectID
	for cur := n.parent; cur != RootID; {
		parent, ok := ix.nodes[cur]
		if !ok {
			return nil, fmt.Errorf("%w: dangling parent %s", ErrIntegrity, cur)
		}
		chain = append(chain, cur)
		if len(chain) > len(ix.nodes) {
			return nil, fmt.Errorf("%w: ancestor chain exceeds index size", ErrIntegrity)
		}
		cur = parent.parent
	}
	return chain, nil
}

// ChildrenOf returns one page of the folder's children (RootID lists the
// top level). Ordering is creation sequence then id, so repeated paging
// never skips or duplicates an unchanged sibling; items created, moved, or
// removed between fetches may shift, which callers accept.
func (ix *Index) ChildrenOf(folderID types.ObjectID, page types.Page) ([]types.ObjectID, int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var ids []types.ObjectID
	if folderID == RootID {
		ids = ix.roots
	} else {
		n, ok := ix.nodes[folderID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnknownObject, folderID)
		}
		ids = n.children
	}

	ordered := make([]types.ObjectID, len(ids))
	copy(ordered, ids)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ix.nodes[ordered[i]], ix.nodes[ordered[j]]
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return ordered[i] < ordered[j]
	})

	page = page.Sanitized()
	total := len(ordered)
	start := page.Offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	out := make([]types.ObjectID, end-start)
	copy(out, ordered[start:end])
	return out, total, nil
}

// IsDescendant reports whether candidateID sits somewhere beneath ofID.
func (ix *Index) IsDescendant(candidateID, ofID types.ObjectID) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	chain, err := ix.ancestorsLocked(candidateID)
	if err != nil {
		return false, err
	}
	for _, anc := range chain {
		if anc == ofID {
			return true, nil
		}
	}
	return false, nil
}

// Move reparents an object. It fails with ErrCycleDetected when the new
// parent is the object itself or one of its descendants, leaving both
// nodes untouched. The write lock gives a consistent view of both chains.
func (ix *Index) Move(id, newParentID types.ObjectID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, ok := ix.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if newParentID != RootID {
		if _, ok := ix.nodes[newParentID]; !ok {
			return fmt.Errorf("%w: parent %s", ErrUnknownObject, newParentID)
		}
		if newParentID == id {
			return ErrCycleDetected
		}
		chain, err := ix.ancestorsLocked(newParentID)
		if err != nil {
			return err
		}
		for _, anc := range chain {
			if anc == id {
				return ErrCycleDetected
			}
		}
	}
	if n.parent == newParentID {
		return nil
	}

	ix.detachLocked(id, n.parent)
	n.parent = newParentID
	if newParentID == RootID {
		ix.roots = append(ix.roots, id)
	} else {
		p := ix.nodes[newParentID]
		p.children = append(p.children, id)
	}
	ix.bump()
	return nil
}

// Remove drops a leaf from the index. Removing an object that still has
// children would orphan them, so it is refused.
func (ix *Index) Remove(id types.ObjectID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, ok := ix.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("hierarchy: object %s still has children", id)
	}

	ix.detachLocked(id, n.parent)
	delete(ix.nodes, id)
	ix.bump()
	return nil
}

// Contains reports whether the id is indexed.
func (ix *Index) Contains(id types.ObjectID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.nodes[id]
	return ok
}

func (ix *Index) detachLocked(id, parentID types.ObjectID) {
	if parentID == RootID {
		ix.roots = removeID(ix.roots, id)
		return
	}
	if p, ok := ix.nodes[parentID]; ok {
		p.children = removeID(p.children, id)
	}
}

func (ix *Index) bump() {
	ix.revision++
	if ix.onChange != nil {
		ix.onChange()
	}
}

func removeID(ids []types.ObjectID, id types.ObjectID) []types.ObjectID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
