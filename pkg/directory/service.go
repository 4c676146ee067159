// Package directory orchestrates the object drive use cases: create,
// list, update, trash, move, and share. Every mutation runs inside the
// change-token guard's per-object critical section; every access decision
// goes through the two-stage evaluator.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odrive/pkg/access"
	"odrive/pkg/acm"
	"odrive/pkg/blob"
	"odrive/pkg/grants"
	"odrive/pkg/hierarchy"
	"odrive/pkg/token"
	"odrive/pkg/types"
)

var (
	// ErrPermissionDenied covers both a failed marking gate and a missing
	// discretionary flag; callers are not told which.
	ErrPermissionDenied = errors.New("directory: permission denied")

	// ErrNotFound covers unknown ids and objects hidden by trash state.
	ErrNotFound = errors.New("directory: object not found")

	// ErrInvalidParent rejects a parent that exists but cannot contain
	// children (a document, or the object itself during a move).
	ErrInvalidParent = errors.New("directory: invalid parent")

	// ErrInvalidRequest rejects a malformed operation before any state is
	// touched.
	ErrInvalidRequest = errors.New("directory: invalid request")
)

// DefaultShareFlags is the least-privilege default applied when a share
// request does not name explicit flags: read only. Broader flags are an
// explicit caller decision, never an implicit default.
var DefaultShareFlags = types.PermissionFlags{Read: true}

// Persister receives successful mutations for durable storage. The
// in-memory state is authoritative during a run; persistence is
// write-through and failures are logged, not surfaced to the caller.
type Persister interface {
	SaveObject(obj *types.Object) error
	SaveGrant(g types.Grant) error
	DeleteGrant(objectID types.ObjectID, granteeID types.GranteeID) error
}

// Service is the object directory service.
type Service struct {
	logger *zap.Logger

	objects   map[types.ObjectID]*types.Object
	objectsMu sync.RWMutex

	guard     *token.Guard
	grants    *grants.Store
	hierarchy *hierarchy.Index
	access    *access.Evaluator
	blobs     blob.Store
	persister Persister
}

// Option configures a Service.
type Option func(*Service)

// WithPersister attaches a write-through persistence layer.
func WithPersister(p Persister) Option {
	return func(s *Service) { s.persister = p }
}

func NewService(blobs blob.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		logger:    logger,
		objects:   make(map[types.ObjectID]*types.Object),
		guard:     token.NewGuard(),
		grants:    grants.NewStore(),
		hierarchy: hierarchy.NewIndex(),
		blobs:     blobs,
	}
	s.access = access.NewEvaluator(s, s.grants, s.hierarchy, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluator exposes the access evaluator (CLI status, tests).
func (s *Service) Evaluator() *access.Evaluator { return s.access }

// Grants exposes the grant store for restore paths.
func (s *Service) Grants() *grants.Store { return s.grants }

// GetObject implements access.ObjectSource.
func (s *Service) GetObject(id types.ObjectID) (*types.Object, bool) {
	s.objectsMu.RLock()
	defer s.objectsMu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	c := *obj
	return &c, true
}

// CreateRequest carries everything needed to create a document or folder.
type CreateRequest struct {
	ParentID    types.ObjectID
	TypeName    types.TypeName
	Name        string
	ContentType string
	Content     []byte
	RawACM      []byte
}

// Create validates the marking, enforces create permission on the parent,
// stores content, indexes the object, writes the initial owner grant, and
// issues the first change token.
func (s *Service) Create(ctx context.Context, principal *types.Principal, req CreateRequest) (*types.Object, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidRequest)
	}
	if req.TypeName != types.TypeDocument && req.TypeName != types.TypeFolder {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.TypeName)
	}

	marking, err := acm.ParseAndValidate(req.RawACM)
	if err != nil {
		return nil, err
	}
	rawCanonical, err := marking.Marshal()
	if err != nil {
		return nil, err
	}

	if req.ParentID != hierarchy.RootID {
		parent, err := s.visibleObject(req.ParentID)
		if err != nil {
			return nil, err
		}
		if !parent.IsFolder() {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidParent, req.ParentID)
		}
		if !s.access.CanPerform(principal, req.ParentID, types.ActionCreate) {
			return nil, fmt.Errorf("%w: create on parent %s", ErrPermissionDenied, req.ParentID)
		}
	}
	// Root-level creation is open to any authenticated principal; the
	// created object is still gated by its own marking and grants.

	obj := &types.Object{
		ID:           types.ObjectID(uuid.NewString()),
		TypeName:     req.TypeName,
		ParentID:     req.ParentID,
		Name:         req.Name,
		ContentType:  req.ContentType,
		CreatedDate:  time.Now(),
		ModifiedDate: time.Now(),
		CreatedBy:    principal.ID,
		RawACM:       rawCanonical,
	}

	if len(req.Content) > 0 {
		if req.TypeName == types.TypeFolder {
			return nil, fmt.Errorf("%w: folders carry no content", ErrInvalidRequest)
		}
		ref, size, err := s.blobs.Put(ctx, bytes.NewReader(req.Content))
		if err != nil {
			return nil, fmt.Errorf("directory: store content: %w", err)
		}
		obj.BlobRef = ref
		obj.ContentSize = size
	}

	if err := s.hierarchy.Add(obj.ID, obj.ParentID); err != nil {
		return nil, err
	}

	obj.ChangeToken = s.guard.Issue(obj.ID)

	// Persist before the object enters the table: it is not mutable until
	// it is visible, so no later update's row can be overwritten by this
	// initial snapshot.
	s.persistObject(obj)

	s.objectsMu.Lock()
	s.objects[obj.ID] = obj
	s.objectsMu.Unlock()

	// Ownership is an explicit grant, not an assumption baked into the
	// grant layer. Folders propagate so the creator keeps control of the
	// subtree; documents are leaves and do not.
	s.grants.Upsert(obj.ID, principal.ID, types.AllFlags(), obj.IsFolder(), principal.ID)
	if g, ok := s.grants.Get(obj.ID, principal.ID); ok {
		s.persistGrant(*g)
	}

	s.logger.Info("object created",
		zap.String("id", string(obj.ID)),
		zap.String("type", string(obj.TypeName)),
		zap.String("parent", string(obj.ParentID)),
		zap.String("createdBy", string(principal.ID)))

	c := *obj
	return &c, nil
}

// Get returns the object if the principal may read it. Trashed objects and
// objects beneath a trashed folder are hidden.
func (s *Service) Get(ctx context.Context, principal *types.Principal, id types.ObjectID) (*types.Object, error) {
	obj, err := s.visibleObject(id)
	if err != nil {
		return nil, err
	}
	if !s.access.CanPerform(principal, id, types.ActionRead) {
		return nil, fmt.Errorf("%w: read %s", ErrPermissionDenied, id)
	}
	return obj, nil
}

// GetContent streams a document's bytes after the same checks as Get.
func (s *Service) GetContent(ctx context.Context, principal *types.Principal, id types.ObjectID) (io.ReadCloser, *types.Object, error) {
	obj, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, nil, err
	}
	if obj.BlobRef == "" {
		return io.NopCloser(bytes.NewReader(nil)), obj, nil
	}
	rc, err := s.blobs.Get(ctx, obj.BlobRef)
	if err != nil {
		return nil, nil, fmt.Errorf("directory: fetch content: %w", err)
	}
	return rc, obj, nil
}

// ListResult is one page of a listing, after visibility filtering. Total
// counts indexed children before filtering, so page arithmetic stays
// stable while per-page item counts may shrink.
type ListResult struct {
	Objects    []*types.Object
	TotalRows  int
	PageNumber int
	PageSize   int
}

// List returns the children of parentID (RootID for the top level) the
// principal can read. Unreadable or trashed entries are omitted, never an
// error: partial visibility is the norm.
func (s *Service) List(ctx context.Context, principal *types.Principal, parentID types.ObjectID, page types.Page) (*ListResult, error) {
	if parentID != hierarchy.RootID {
		parent, err := s.visibleObject(parentID)
		if err != nil {
			return nil, err
		}
		if !parent.IsFolder() {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidParent, parentID)
		}
		if !s.access.CanPerform(principal, parentID, types.ActionRead) {
			return nil, fmt.Errorf("%w: read %s", ErrPermissionDenied, parentID)
		}
	}

	page = page.Sanitized()
	ids, total, err := s.hierarchy.ChildrenOf(parentID, page)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		TotalRows:  total,
		PageNumber: page.Number,
		PageSize:   page.Size,
	}
	for _, id := range ids {
		obj, ok := s.GetObject(id)
		if !ok || obj.Deleted {
			continue
		}
		if !s.access.CanPerform(principal, id, types.ActionRead) {
			continue
		}
		result.Objects = append(result.Objects, obj)
	}
	return result, nil
}

// UpdatePatch names the mutable fields of an update. Nil pointers leave
// the field untouched. RawACM non-nil is an explicit re-mark and re-runs
// the validator; the marking never changes as a side effect of anything
// else.
type UpdatePatch struct {
	Name        *string
	ContentType *string
	Content     []byte
	RawACM      []byte
}

// Update applies a patch under the change-token guard. Exactly one of two
// racing updates with the same observed token succeeds; the loser gets
// ErrStaleToken and must re-fetch.
func (s *Service) Update(ctx context.Context, principal *types.Principal, id types.ObjectID, suppliedToken string, patch UpdatePatch) (*types.Object, error) {
	if _, err := s.visibleObject(id); err != nil {
		return nil, err
	}
	if !s.access.CanPerform(principal, id, types.ActionUpdate) {
		return nil, fmt.Errorf("%w: update %s", ErrPermissionDenied, id)
	}

	var rawCanonical string
	if patch.RawACM != nil {
		marking, err := acm.ParseAndValidate(patch.RawACM)
		if err != nil {
			return nil, err
		}
		rawCanonical, err = marking.Marshal()
		if err != nil {
			return nil, err
		}
	}

	// Content lands in the store before the token check; a stale loser may
	// leave an unreferenced blob behind. Refs are content addressed, so the
	// bytes are reused when the caller retries with the fresh token.
	var blobRef types.BlobRef
	var contentSize int64
	if patch.Content != nil {
		ref, size, err := s.blobs.Put(ctx, bytes.NewReader(patch.Content))
		if err != nil {
			return nil, fmt.Errorf("directory: store content: %w", err)
		}
		blobRef, contentSize = ref, size
	}

	var updated types.Object
	_, err := s.guard.WithToken(id, suppliedToken, func(next string) error {
		s.objectsMu.Lock()
		obj, ok := s.objects[id]
		if !ok {
			s.objectsMu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if obj.IsFolder() && patch.Content != nil {
			s.objectsMu.Unlock()
			return fmt.Errorf("%w: folders carry no content", ErrInvalidRequest)
		}
		if patch.Name != nil {
			obj.Name = *patch.Name
		}
		if patch.ContentType != nil {
			obj.ContentType = *patch.ContentType
		}
		if patch.Content != nil {
			obj.BlobRef = blobRef
			obj.ContentSize = contentSize
		}
		if patch.RawACM != nil {
			obj.RawACM = rawCanonical
			// A re-mark changes who the mandatory gate admits.
			s.access.InvalidateAll()
		}
		obj.ChangeToken = next
		obj.ChangeCount++
		obj.ModifiedDate = time.Now()
		updated = *obj
		s.objectsMu.Unlock()

		// Persist before the critical section releases: rows reach the
		// journal in token order, so a restart never resurrects a snapshot
		// an accepted later mutation has replaced.
		s.persistObject(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("object updated",
		zap.String("id", string(id)),
		zap.Int("changeCount", updated.ChangeCount))
	return &updated, nil
}

// Trash soft-deletes the object under the change-token guard. Descendants
// keep their own deleted flags; they become invisible through the
// ancestor-walk in visibleObject (lazy cascade, no fan-out write).
func (s *Service) Trash(ctx context.Context, principal *types.Principal, id types.ObjectID, suppliedToken string) (*types.Object, error) {
	if _, err := s.visibleObject(id); err != nil {
		return nil, err
	}
	if !s.access.CanPerform(principal, id, types.ActionDelete) {
		return nil, fmt.Errorf("%w: delete %s", ErrPermissionDenied, id)
	}

	var updated types.Object
	_, err := s.guard.WithToken(id, suppliedToken, func(next string) error {
		s.objectsMu.Lock()
		obj, ok := s.objects[id]
		if !ok {
			s.objectsMu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		now := time.Now()
		obj.Deleted = true
		obj.DeletedDate = &now
		obj.ChangeToken = next
		obj.ChangeCount++
		obj.ModifiedDate = now
		updated = *obj
		s.objectsMu.Unlock()

		s.persistObject(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Trash alters the effective visibility of the whole subtree.
	s.access.InvalidateAll()

	s.logger.Info("object trashed", zap.String("id", string(id)))
	return &updated, nil
}

// Restore brings a trashed object back, provided no ancestor is itself
// trashed. Same permission and token discipline as Trash.
func (s *Service) Restore(ctx context.Context, principal *types.Principal, id types.ObjectID, suppliedToken string) (*types.Object, error) {
	obj, ok := s.GetObject(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !obj.Deleted {
		return obj, nil
	}
	trashedAncestor, err := s.hasTrashedAncestor(id)
	if err != nil {
		return nil, err
	}
	if trashedAncestor {
		return nil, fmt.Errorf("%w: ancestor still trashed", ErrInvalidParent)
	}
	if !s.access.CanPerform(principal, id, types.ActionDelete) {
		return nil, fmt.Errorf("%w: restore %s", ErrPermissionDenied, id)
	}

	var updated types.Object
	_, err = s.guard.WithToken(id, suppliedToken, func(next string) error {
		s.objectsMu.Lock()
		o, ok := s.objects[id]
		if !ok {
			s.objectsMu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		o.Deleted = false
		o.DeletedDate = nil
		o.ChangeToken = next
		o.ChangeCount++
		o.ModifiedDate = time.Now()
		updated = *o
		s.objectsMu.Unlock()

		s.persistObject(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.access.InvalidateAll()

	s.logger.Info("object restored", zap.String("id", string(id)))
	return &updated, nil
}

// Move reparents an object under the change-token guard. Requires update
// on the object and create on the destination folder. A cycle aborts with
// no change to either object and the token stays valid.
func (s *Service) Move(ctx context.Context, principal *types.Principal, id types.ObjectID, suppliedToken string, newParentID types.ObjectID) (*types.Object, error) {
	if _, err := s.visibleObject(id); err != nil {
		return nil, err
	}
	if !s.access.CanPerform(principal, id, types.ActionUpdate) {
		return nil, fmt.Errorf("%w: move %s", ErrPermissionDenied, id)
	}
	if newParentID != hierarchy.RootID {
		parent, err := s.visibleObject(newParentID)
		if err != nil {
			return nil, err
		}
		if !parent.IsFolder() {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidParent, newParentID)
		}
		if !s.access.CanPerform(principal, newParentID, types.ActionCreate) {
			return nil, fmt.Errorf("%w: create on parent %s", ErrPermissionDenied, newParentID)
		}
	}

	var updated types.Object
	_, err := s.guard.WithToken(id, suppliedToken, func(next string) error {
		if err := s.hierarchy.Move(id, newParentID); err != nil {
			return err
		}
		s.objectsMu.Lock()
		obj, ok := s.objects[id]
		if !ok {
			s.objectsMu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		obj.ParentID = newParentID
		obj.ChangeToken = next
		obj.ChangeCount++
		obj.ModifiedDate = time.Now()
		updated = *obj
		s.objectsMu.Unlock()

		s.persistObject(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("object moved",
		zap.String("id", string(id)),
		zap.String("newParent", string(newParentID)))
	return &updated, nil
}

// Share writes or replaces a grant. Grants are side-channel metadata, so
// no change token is required; the evaluator cache is dropped so a
// propagating grant takes effect on descendants immediately.
func (s *Service) Share(ctx context.Context, principal *types.Principal, id types.ObjectID, granteeID types.GranteeID, flags types.PermissionFlags, propagate bool) (*types.Grant, error) {
	if _, err := s.visibleObject(id); err != nil {
		return nil, err
	}
	if !s.access.CanPerform(principal, id, types.ActionShare) {
		return nil, fmt.Errorf("%w: share %s", ErrPermissionDenied, id)
	}

	g := s.grants.Upsert(id, granteeID, flags, propagate, principal.ID)
	s.persistGrant(*g)

	s.logger.Info("object shared",
		zap.String("id", string(id)),
		zap.String("grantee", string(granteeID)),
		zap.Bool("propagate", propagate))
	return g, nil
}

// RevokeShare removes a grantee's record from an object.
func (s *Service) RevokeShare(ctx context.Context, principal *types.Principal, id types.ObjectID, granteeID types.GranteeID) error {
	if _, err := s.visibleObject(id); err != nil {
		return err
	}
	if !s.access.CanPerform(principal, id, types.ActionShare) {
		return fmt.Errorf("%w: share %s", ErrPermissionDenied, id)
	}

	s.grants.Revoke(id, granteeID)
	if s.persister != nil {
		if err := s.persister.DeleteGrant(id, granteeID); err != nil {
			s.logger.Error("persist grant revoke failed", zap.Error(err))
		}
	}

	s.logger.Info("share revoked",
		zap.String("id", string(id)),
		zap.String("grantee", string(granteeID)))
	return nil
}

// SharedWithMe lists objects someone else granted to the principal,
// filtered by readability; a grant on an object the marking hides is not
// shown.
func (s *Service) SharedWithMe(ctx context.Context, principal *types.Principal) ([]*types.Object, error) {
	var out []*types.Object
	for _, g := range s.grants.ListForGrantee(principal.ID) {
		if g.CreatedBy == principal.ID {
			continue
		}
		obj, err := s.visibleObject(g.ObjectID)
		if err != nil {
			continue
		}
		if !s.access.CanPerform(principal, g.ObjectID, types.ActionRead) {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// SharedByMe lists objects the principal has granted to others.
func (s *Service) SharedByMe(ctx context.Context, principal *types.Principal) ([]*types.Object, error) {
	seen := make(map[types.ObjectID]bool)
	var out []*types.Object
	for _, g := range s.grants.ListGrantedBy(principal.ID) {
		if seen[g.ObjectID] {
			continue
		}
		seen[g.ObjectID] = true
		obj, err := s.visibleObject(g.ObjectID)
		if err != nil {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// ListTrashed lists the principal's own trashed objects, excluding those
// hidden because an ancestor is trashed too (restoring the ancestor brings
// them back as one unit).
func (s *Service) ListTrashed(ctx context.Context, principal *types.Principal) ([]*types.Object, error) {
	s.objectsMu.RLock()
	ids := make([]types.ObjectID, 0)
	for id, obj := range s.objects {
		if obj.Deleted && obj.CreatedBy == principal.ID {
			ids = append(ids, id)
		}
	}
	s.objectsMu.RUnlock()

	var out []*types.Object
	for _, id := range ids {
		trashedAncestor, err := s.hasTrashedAncestor(id)
		if err != nil || trashedAncestor {
			continue
		}
		obj, _ := s.GetObject(id)
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}

// CurrentToken returns the token a caller must present for a mutation,
// subject to read access.
func (s *Service) CurrentToken(ctx context.Context, principal *types.Principal, id types.ObjectID) (string, error) {
	if _, err := s.Get(ctx, principal, id); err != nil {
		return "", err
	}
	return s.guard.Current(id)
}

// RestoreState rebuilds in-memory indexes from persisted rows. Called once
// at startup before the service accepts requests.
func (s *Service) RestoreState(objects []*types.Object, grantRows []types.Grant) error {
	// Parents must be indexed before children; sort by ancestry depth by
	// inserting roots first and retrying the rest.
	pending := make([]*types.Object, len(objects))
	copy(pending, objects)
	for len(pending) > 0 {
		progressed := false
		var next []*types.Object
		for _, obj := range pending {
			if obj.ParentID != hierarchy.RootID && !s.hierarchy.Contains(obj.ParentID) {
				next = append(next, obj)
				continue
			}
			if err := s.hierarchy.Add(obj.ID, obj.ParentID); err != nil {
				return err
			}
			c := *obj
			s.objectsMu.Lock()
			s.objects[obj.ID] = &c
			s.objectsMu.Unlock()
			s.guard.Adopt(obj.ID, obj.ChangeToken)
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("%w: unresolvable parent references in persisted state", hierarchy.ErrIntegrity)
		}
		pending = next
	}
	for _, g := range grantRows {
		s.grants.Restore(g)
	}
	s.access.InvalidateAll()
	s.logger.Info("state restored",
		zap.Int("objects", len(objects)),
		zap.Int("grants", len(grantRows)))
	return nil
}

// visibleObject returns the object unless it is unknown, trashed, or
// beneath a trashed folder. The trash cascade is computed here at read
// time rather than written eagerly across the subtree.
func (s *Service) visibleObject(id types.ObjectID) (*types.Object, error) {
	obj, ok := s.GetObject(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if obj.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	trashedAncestor, err := s.hasTrashedAncestor(id)
	if err != nil {
		return nil, err
	}
	if trashedAncestor {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return obj, nil
}

func (s *Service) hasTrashedAncestor(id types.ObjectID) (bool, error) {
	ancestors, err := s.hierarchy.AncestorsOf(id)
	if err != nil {
		return false, err
	}
	for _, ancestorID := range ancestors {
		anc, ok := s.GetObject(ancestorID)
		if !ok {
			return false, fmt.Errorf("%w: ancestor %s missing from object table", hierarchy.ErrIntegrity, ancestorID)
		}
		if anc.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) persistObject(obj *types.Object) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveObject(obj); err != nil {
		s.logger.Error("persist object failed",
			zap.String("id", string(obj.ID)),
			zap.Error(err))
	}
}

func (s *Service) persistGrant(g types.Grant) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveGrant(g); err != nil {
		s.logger.Error("persist grant failed",
			zap.String("object", string(g.ObjectID)),
			zap.String("grantee", string(g.GranteeID)),
			zap.Error(err))
	}
}
