/**
 * @description
 * This package provides a content-addressed file store for demande
 * supporting documents. Files land on local disk under their SHA-256
 * digest, which makes writes idempotent and lets the database reference
 * documents by digest alone.
 *
 * Key features:
 * - Save streams content through a hash and renames it into place, so a
 *   crashed upload never leaves a partial object under a valid digest.
 * - Open retrieves a stored object by digest.
 * - Objects are sharded into subdirectories by digest prefix to keep
 *   directory sizes manageable.
 *
 * @dependencies
 * - crypto/sha256, encoding/hex, io, os, path/filepath: Standard Go libraries.
 */
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store persists document blobs under a root directory, addressed by their
// SHA-256 digest.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store over it.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("filestore root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create filestore root: %w", err)
	}
	return &Store{root: root}, nil
}

// Save streams the content to disk and returns its hex digest and size.
// Saving content that is already stored is a no-op that returns the same
// digest.
func (s *Store) Save(content io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to write upload: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	dest := s.objectPath(digest)

	if _, err := os.Stat(dest); err == nil {
		return digest, size, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", 0, fmt.Errorf("failed to store object: %w", err)
	}
	return digest, size, nil
}

// Open returns a reader over the stored object for the given digest.
func (s *Store) Open(digest string) (io.ReadCloser, error) {
	if !digestPattern.MatchString(digest) {
		return nil, fmt.Errorf("invalid object digest %q", digest)
	}
	f, err := os.Open(s.objectPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s not found", digest)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// objectPath shards objects by the first two digest characters.
func (s *Store) objectPath(digest string) string {
	return filepath.Join(s.root, "objects", digest[:2], digest)
}
