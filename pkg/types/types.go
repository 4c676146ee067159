package types

import (
	"time"
)

type ObjectID string
type GranteeID string
type BlobRef string

// TypeName distinguishes the two kinds of objects in the tree.
type TypeName string

const (
	TypeDocument TypeName = "Document"
	TypeFolder   TypeName = "Folder"
)

// Action is a requested capability against an object.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// PermissionFlags is the per-grantee capability set carried by a grant.
// Access is deny-by-default; a record only ever adds capabilities.
type PermissionFlags struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
	Share  bool `json:"share"`
}

// Union returns the flag-wise OR of two sets.
func (f PermissionFlags) Union(other PermissionFlags) PermissionFlags {
	return PermissionFlags{
		Create: f.Create || other.Create,
		Read:   f.Read || other.Read,
		Update: f.Update || other.Update,
		Delete: f.Delete || other.Delete,
		Share:  f.Share || other.Share,
	}
}

// Has reports whether the flag named by action is set.
func (f PermissionFlags) Has(action Action) bool {
	switch action {
	case ActionCreate:
		return f.Create
	case ActionRead:
		return f.Read
	case ActionUpdate:
		return f.Update
	case ActionDelete:
		return f.Delete
	case ActionShare:
		return f.Share
	}
	return false
}

// AllFlags grants every capability. Used for the initial owner grant.
func AllFlags() PermissionFlags {
	return PermissionFlags{Create: true, Read: true, Update: true, Delete: true, Share: true}
}

// Object is a document or folder in the drive. ParentID is empty for
// root-level objects. The ACM travels as its canonical serialized form;
// callers needing the parsed structure go through pkg/acm.
type Object struct {
	ID           ObjectID
	TypeName     TypeName
	ParentID     ObjectID
	Name         string
	ContentType  string
	ContentSize  int64
	CreatedDate  time.Time
	CreatedBy    GranteeID
	ModifiedDate time.Time

	RawACM  string
	BlobRef BlobRef

	ChangeToken string
	ChangeCount int

	Deleted     bool
	DeletedDate *time.Time
}

// IsFolder reports whether the object can contain children.
func (o *Object) IsFolder() bool {
	return o.TypeName == TypeFolder
}

// Grant is a permission record for one (object, grantee) pair. When
// PropagateToChildren is set the flags apply to every current and future
// descendant of the object until the grant is revoked.
type Grant struct {
	ObjectID            ObjectID
	GranteeID           GranteeID
	Flags               PermissionFlags
	PropagateToChildren bool
	CreatedBy           GranteeID
	CreatedDate         time.Time
}

// Principal is an authenticated caller. Attributes carry the clearance
// data the access evaluator checks against an object's ACM; they come from
// the identity collaborator and are never minted here.
type Principal struct {
	ID                GranteeID
	DistinguishedName string
	DisplayName       string
	Attributes        UserAttributes
}

// UserAttributes is a principal's clearance profile.
type UserAttributes struct {
	// Clearance holds every classification level the principal may read,
	// lowercase (e.g. "u", "c", "s", "ts").
	Clearance []string
	// SCIControls and SARAccess list compartment and special-access
	// programs the principal is read into.
	SCIControls []string
	SARAccess   []string
	Country     string
	Groups      []string
}

// Page is a request for one window of an ordered listing.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Sanitized clamps a page request to usable values.
func (p Page) Sanitized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the index of the first item on the page.
func (p Page) Offset() int {
	p = p.Sanitized()
	return (p.Number - 1) * p.Size
}
