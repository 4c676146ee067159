// Package server binds the directory service to an HTTP JSON surface. The
// binding holds no authorization logic of its own; it resolves the caller,
// translates wire shapes, and maps the core error taxonomy to status
// codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"odrive/pkg/acm"
	"odrive/pkg/directory"
	"odrive/pkg/hierarchy"
	"odrive/pkg/identity"
	"odrive/pkg/protocol"
	"odrive/pkg/token"
	"odrive/pkg/types"
)

// IdentityHeader carries the caller's distinguished name, normally
// injected by the TLS-terminating edge.
const IdentityHeader = "X-User-Dn"

// Server serves the object drive API.
type Server struct {
	svc      *directory.Service
	resolver identity.Resolver
	logger   *zap.Logger

	httpServer *http.Server
}

func New(svc *directory.Service, resolver identity.Resolver, logger *zap.Logger) *Server {
	return &Server{svc: svc, resolver: resolver, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /objects", s.withPrincipal(s.handleList))
	mux.HandleFunc("POST /objects", s.withPrincipal(s.handleCreate))
	mux.HandleFunc("GET /objects/{id}", s.withPrincipal(s.handleGet))
	mux.HandleFunc("GET /objects/{id}/stream", s.withPrincipal(s.handleStream))
	mux.HandleFunc("POST /objects/{id}", s.withPrincipal(s.handleUpdate))
	mux.HandleFunc("POST /objects/{id}/trash", s.withPrincipal(s.handleTrash))
	mux.HandleFunc("POST /objects/{id}/restore", s.withPrincipal(s.handleRestore))
	mux.HandleFunc("POST /objects/{id}/move", s.withPrincipal(s.handleMove))
	mux.HandleFunc("POST /objects/{id}/share", s.withPrincipal(s.handleShare))
	mux.HandleFunc("DELETE /objects/{id}/share/{grantee}", s.withPrincipal(s.handleRevokeShare))
	mux.HandleFunc("GET /shares/to-me", s.withPrincipal(s.handleSharedWithMe))
	mux.HandleFunc("GET /shares/by-me", s.withPrincipal(s.handleSharedByMe))
	mux.HandleFunc("GET /trashed", s.withPrincipal(s.handleListTrashed))

	return mux
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type principalHandler func(w http.ResponseWriter, r *http.Request, p *types.Principal)

func (s *Server) withPrincipal(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.resolver.ResolvePrincipal(r.Context(), r.Header.Get(IdentityHeader))
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r, principal)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.CreateObjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := s.svc.Create(r.Context(), p, directory.CreateRequest{
		ParentID:    types.ObjectID(req.ParentID),
		TypeName:    types.TypeName(req.TypeName),
		Name:        req.Name,
		ContentType: req.ContentType,
		Content:     req.Content,
		RawACM:      req.ACM,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, protocol.NewObjectResponse(obj))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	obj, err := s.svc.Get(r.Context(), p, types.ObjectID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewObjectResponse(obj))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	rc, obj, err := s.svc.GetContent(r.Context(), p, types.ObjectID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("content stream interrupted",
			zap.String("id", string(obj.ID)),
			zap.Error(err))
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	parentID := types.ObjectID(r.URL.Query().Get("parentId"))
	page := pageFromQuery(r)

	result, err := s.svc.List(r.Context(), p, parentID, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK,
		protocol.NewResultset(result.Objects, result.TotalRows, result.PageNumber, result.PageSize))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.UpdateObjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := s.svc.Update(r.Context(), p, types.ObjectID(r.PathValue("id")), req.ChangeToken, directory.UpdatePatch{
		Name:        req.Name,
		ContentType: req.ContentType,
		Content:     req.Content,
		RawACM:      req.ACM,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewObjectResponse(obj))
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.ChangeTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := s.svc.Trash(r.Context(), p, types.ObjectID(r.PathValue("id")), req.ChangeToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewObjectResponse(obj))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.ChangeTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := s.svc.Restore(r.Context(), p, types.ObjectID(r.PathValue("id")), req.ChangeToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewObjectResponse(obj))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.MoveObjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := s.svc.Move(r.Context(), p, types.ObjectID(r.PathValue("id")), req.ChangeToken, types.ObjectID(req.NewParentID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewObjectResponse(obj))
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	var req protocol.ShareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	flags := directory.DefaultShareFlags
	if req.Flags != nil {
		flags = *req.Flags
	}
	g, err := s.svc.Share(r.Context(), p, types.ObjectID(r.PathValue("id")),
		types.GranteeID(req.Grantee), flags, req.PropagateToChildren)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewGrantResponse(g))
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	err := s.svc.RevokeShare(r.Context(), p, types.ObjectID(r.PathValue("id")),
		types.GranteeID(r.PathValue("grantee")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSharedWithMe(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	objects, err := s.svc.SharedWithMe(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewResultset(objects, len(objects), 1, len(objects)+1))
}

func (s *Server) handleSharedByMe(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	objects, err := s.svc.SharedByMe(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewResultset(objects, len(objects), 1, len(objects)+1))
}

func (s *Server) handleListTrashed(w http.ResponseWriter, r *http.Request, p *types.Principal) {
	objects, err := s.svc.ListTrashed(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.NewResultset(objects, len(objects), 1, len(objects)+1))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps the core error taxonomy onto HTTP status codes. Stale
// tokens map to 428 Precondition Required so callers know to re-fetch and
// retry with the fresh token.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, directory.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, token.ErrUnknownObject),
		errors.Is(err, hierarchy.ErrUnknownObject):
		status = http.StatusNotFound
	case errors.Is(err, token.ErrStaleToken):
		status = http.StatusPreconditionRequired
	case errors.Is(err, hierarchy.ErrCycleDetected):
		status = http.StatusConflict
	case errors.Is(err, acm.ErrMalformedACM),
		errors.Is(err, acm.ErrPolicyViolation),
		errors.Is(err, directory.ErrInvalidParent),
		errors.Is(err, directory.ErrInvalidRequest),
		errors.Is(err, errBadBody):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, protocol.ErrorResponse{Error: err.Error()})
}

var errBadBody = errors.New("server: malformed request body")

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}

func pageFromQuery(r *http.Request) types.Page {
	page := types.Page{}
	if v := r.URL.Query().Get("pageNumber"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Number = n
		}
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Size = n
		}
	}
	return page
}
