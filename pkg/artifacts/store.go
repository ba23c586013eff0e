// Package artifacts publishes evidence files to content-addressed storage.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get for unknown digests.
var ErrNotFound = errors.New("artifacts: not found")

// Store is a content-addressed blob store keyed by "sha256:<hex>".
type Store interface {
	// Put persists data and returns its digest. Re-putting is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, digest string) ([]byte, error)
	Exists(ctx context.Context, digest string) (bool, error)
}

// Digest returns the store key of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseDigest validates "sha256:<64 hex>" and returns the hex part.
func parseDigest(digest string) (string, error) {
	raw, ok := strings.CutPrefix(digest, "sha256:")
	if !ok {
		return "", fmt.Errorf("artifacts: invalid digest format: %s", digest)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("artifacts: invalid digest hex: %s", digest)
	}
	return raw, nil
}

// objectKey is the blob path below a store prefix.
func objectKey(prefix, raw string) string {
	return prefix + "sha256/" + raw[:2] + "/" + raw
}

// FileStore keeps blobs on the local filesystem.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the store directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(objectKey("", raw)))
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	raw, _ := parseDigest(digest)
	path := s.path(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return digest, nil
}

func (s *FileStore) Get(_ context.Context, digest string) ([]byte, error) {
	raw, err := parseDigest(digest)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path(raw))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return data, err
}

func (s *FileStore) Exists(_ context.Context, digest string) (bool, error) {
	raw, err := parseDigest(digest)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(s.path(raw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
