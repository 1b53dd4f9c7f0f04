package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Filesystem is the default durable adapter: one file per database under a
// root directory.
//
// Saves are atomic: the image is written to a temp file in the same
// directory, fsynced, renamed over the target, and the directory is synced
// so a crash never leaves a torn image behind.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem adapter rooted at dir, creating it if
// needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create adapter root: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) path(name string) string {
	return filepath.Join(f.root, name)
}

// Load reads the database file.
func (f *Filesystem) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save writes the database file atomically.
func (f *Filesystem) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(f.root, f.path(name), data)
}

// Delete removes the database file. Missing files are not an error.
func (f *Filesystem) Delete(_ context.Context, name string) error {
	err := os.Remove(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeFileAtomic writes data to path via a same-directory temp file, fsync
// and rename, then syncs the directory entry.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
