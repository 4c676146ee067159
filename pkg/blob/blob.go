// Package blob is the opaque byte-stream collaborator. The core never
// inspects content; it stores, retrieves, and records size and content
// type only.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"odrive/pkg/types"
)

// ErrNotFound means the ref does not name a stored blob.
var ErrNotFound = errors.New("blob: not found")

// Store is the interface the directory service consumes.
type Store interface {
	Put(ctx context.Context, r io.Reader) (types.BlobRef, int64, error)
	Get(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error)
}

// DiskStore keeps blobs on the local filesystem addressed by content hash.
// Identical content shares one file; refs carry no semantic meaning beyond
// lookup.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create store dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Put(ctx context.Context, r io.Reader) (types.BlobRef, int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return "", 0, fmt.Errorf("blob: read content: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	ref := types.BlobRef(hex.EncodeToString(sum[:]))
	path := s.path(ref)

	if _, err := os.Stat(path); err == nil {
		// Content-addressed: already stored.
		return ref, n, nil
	}

	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return "", 0, fmt.Errorf("blob: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("blob: write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("blob: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("blob: publish content: %w", err)
	}
	return ref, n, nil
}

func (s *DiskStore) Get(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	f, err := os.Open(s.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: open %s: %w", ref, err)
	}
	return f, nil
}

func (s *DiskStore) path(ref types.BlobRef) string {
	return filepath.Join(s.dir, string(ref))
}

// MemStore is an in-memory store for tests.
type MemStore struct {
	mu    sync.Mutex
	blobs map[types.BlobRef][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[types.BlobRef][]byte)}
}

func (s *MemStore) Put(ctx context.Context, r io.Reader) (types.BlobRef, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	ref := types.BlobRef(hex.EncodeToString(sum[:]))
	s.mu.Lock()
	s.blobs[ref] = data
	s.mu.Unlock()
	return ref, int64(len(data)), nil
}

func (s *MemStore) Get(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[ref]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
