// Package storage persists uploaded avatar images.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore saves and removes uploaded files by generated name.
type FileStore interface {
	// Save writes r to a new file with extension ext and returns its name.
	Save(ctx context.Context, ext string, r io.Reader) (string, error)
	// Delete removes the named file. A missing file is not an error.
	Delete(ctx context.Context, name string) error
}

// DiskStore keeps files in a single directory on local disk.
type DiskStore struct {
	dir string
}

var _ FileStore = (*DiskStore)(nil)

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir is the directory files are stored in.
func (s *DiskStore) Dir() string { return s.dir }

// Save writes the upload as <uuid><ext>.
//
// The bytes go to a temp file in the same directory first and are renamed
// into place, so a reader never sees a half-written avatar and a failed copy
// leaves nothing behind.
func (s *DiskStore) Save(ctx context.Context, ext string, r io.Reader) (string, error) {
	ext = strings.ToLower(ext)
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`)) {
		return "", fmt.Errorf("storage: invalid extension %q", ext)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.New().String() + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("storage: storing %s: %w", name, err)
	}
	committed = true

	return name, nil
}

// Delete removes name from the directory.
func (s *DiskStore) Delete(_ context.Context, name string) error {
	// Names come from the database, but a path separator would escape dir.
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("storage: invalid file name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}
