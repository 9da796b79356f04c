// Package blobstore provides the content-addressed filesystem area
// backing the File entity's `location`. Runs are the only writers during
// execution (target capture, §4.D.11); deletion is the only other
// mutation, driven by filestore cleanup.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is a simple content-addressed directory: blobs are written under
// a path derived from their checksum, sharded two levels deep to avoid
// enormous flat directories.
type Store struct {
	Root string
}

// New constructs a Store rooted at root. The directory is created lazily
// on first Put.
func New(root string) *Store {
	return &Store{Root: root}
}

// Put copies src into the content-addressed area and returns the
// resulting (location, checksum, size).
func (s *Store) Put(src string) (location, checksum string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", "", 0, fmt.Errorf("blobstore: open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(s.Root, "blob-*")
	if err != nil {
		if mkErr := os.MkdirAll(s.Root, 0o755); mkErr != nil {
			return "", "", 0, fmt.Errorf("blobstore: create root: %w", mkErr)
		}
		tmp, err = os.CreateTemp(s.Root, "blob-*")
		if err != nil {
			return "", "", 0, fmt.Errorf("blobstore: create temp file: %w", err)
		}
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		return "", "", 0, fmt.Errorf("blobstore: copy: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	dest := s.pathFor(sum)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", 0, fmt.Errorf("blobstore: create shard dir: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", "", 0, fmt.Errorf("blobstore: finalize: %w", err)
	}
	return dest, sum, written, nil
}

// Delete removes the blob at location.
func (s *Store) Delete(location string) error {
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete: %w", err)
	}
	return nil
}

func (s *Store) pathFor(checksum string) string {
	if len(checksum) < 4 {
		return filepath.Join(s.Root, checksum)
	}
	return filepath.Join(s.Root, checksum[:2], checksum[2:4], checksum)
}
