// Package protocol defines the JSON shapes exchanged over the HTTP
// surface and their mapping to the core types.
package protocol

import (
	"encoding/json"
	"time"

	"odrive/pkg/types"
)

// CreateObjectRequest creates a document or folder.
type CreateObjectRequest struct {
	TypeName    string          `json:"typeName"`
	Name        string          `json:"name"`
	ParentID    string          `json:"parentId,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Content     []byte          `json:"content,omitempty"`
	ACM         json.RawMessage `json:"acm"`
}

// UpdateObjectRequest patches an object. Omitted fields are untouched; acm
// present means an explicit re-mark.
type UpdateObjectRequest struct {
	ChangeToken string          `json:"changeToken"`
	Name        *string         `json:"name,omitempty"`
	ContentType *string         `json:"contentType,omitempty"`
	Content     []byte          `json:"content,omitempty"`
	ACM         json.RawMessage `json:"acm,omitempty"`
}

// ChangeTokenRequest carries the token for trash and restore.
type ChangeTokenRequest struct {
	ChangeToken string `json:"changeToken"`
}

// MoveObjectRequest reparents an object. Empty newParentId moves to root.
type MoveObjectRequest struct {
	ChangeToken string `json:"changeToken"`
	NewParentID string `json:"newParentId"`
}

// ShareRequest writes or replaces a grant. A nil flags block applies the
// least-privilege default (read only).
type ShareRequest struct {
	Grantee             string                 `json:"grantee"`
	Flags               *types.PermissionFlags `json:"flags,omitempty"`
	PropagateToChildren bool                   `json:"propagateToChildren"`
}

// ObjectResponse is the wire form of an object.
type ObjectResponse struct {
	ID           string          `json:"id"`
	TypeName     string          `json:"typeName"`
	ParentID     string          `json:"parentId,omitempty"`
	Name         string          `json:"name"`
	ContentType  string          `json:"contentType,omitempty"`
	ContentSize  int64           `json:"contentSize"`
	CreatedDate  time.Time       `json:"createdDate"`
	CreatedBy    string          `json:"createdBy"`
	ModifiedDate time.Time       `json:"modifiedDate"`
	ACM          json.RawMessage `json:"acm"`
	ChangeToken  string          `json:"changeToken"`
	ChangeCount  int             `json:"changeCount"`
	Deleted      bool            `json:"deleted,omitempty"`
	DeletedDate  *time.Time      `json:"deletedDate,omitempty"`
}

// GrantResponse is the wire form of a grant.
type GrantResponse struct {
	ObjectID            string                `json:"objectId"`
	Grantee             string                `json:"grantee"`
	Flags               types.PermissionFlags `json:"flags"`
	PropagateToChildren bool                  `json:"propagateToChildren"`
	CreatedBy           string                `json:"createdBy"`
	CreatedDate         time.Time             `json:"createdDate"`
}

// ObjectResultset is one page of a listing.
type ObjectResultset struct {
	Objects    []ObjectResponse `json:"objects"`
	TotalRows  int              `json:"totalRows"`
	PageNumber int              `json:"pageNumber"`
	PageSize   int              `json:"pageSize"`
	PageCount  int              `json:"pageCount"`
	PageRows   int              `json:"pageRows"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewObjectResponse maps a core object to its wire form.
func NewObjectResponse(obj *types.Object) ObjectResponse {
	return ObjectResponse{
		ID:           string(obj.ID),
		TypeName:     string(obj.TypeName),
		ParentID:     string(obj.ParentID),
		Name:         obj.Name,
		ContentType:  obj.ContentType,
		ContentSize:  obj.ContentSize,
		CreatedDate:  obj.CreatedDate,
		CreatedBy:    string(obj.CreatedBy),
		ModifiedDate: obj.ModifiedDate,
		ACM:          json.RawMessage(obj.RawACM),
		ChangeToken:  obj.ChangeToken,
		ChangeCount:  obj.ChangeCount,
		Deleted:      obj.Deleted,
		DeletedDate:  obj.DeletedDate,
	}
}

// NewGrantResponse maps a grant to its wire form.
func NewGrantResponse(g *types.Grant) GrantResponse {
	return GrantResponse{
		ObjectID:            string(g.ObjectID),
		Grantee:             string(g.GranteeID),
		Flags:               g.Flags,
		PropagateToChildren: g.PropagateToChildren,
		CreatedBy:           string(g.CreatedBy),
		CreatedDate:         g.CreatedDate,
	}
}

// NewResultset maps one filtered page.
func NewResultset(objects []*types.Object, totalRows, pageNumber, pageSize int) ObjectResultset {
	rs := ObjectResultset{
		Objects:    make([]ObjectResponse, 0, len(objects)),
		TotalRows:  totalRows,
		PageNumber: pageNumber,
		PageSize:   pageSize,
	}
	for _, obj := range objects {
		rs.Objects = append(rs.Objects, NewObjectResponse(obj))
	}
	rs.PageRows = len(rs.Objects)
	if pageSize > 0 {
		rs.PageCount = (totalRows + pageSize - 1) / pageSize
	}
	return rs
}
