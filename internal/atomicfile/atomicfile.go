// Package atomicfile writes files so that readers observe either the previous
// contents or the complete new contents, never a partial write.
//
// Data is written to a temporary file in the destination directory. Commit
// syncs the temporary file and renames it over the destination; Discard
// removes it. Exactly one of Commit or Discard should be called.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is a pending write to a destination path.
type File struct {
	f    *os.File
	path string
	perm os.FileMode
	done bool
}

// Create opens a temporary file next to path. The destination is not touched
// until Commit is called.
func Create(path string, perm os.FileMode) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("atomicfile: empty pathname")
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}

	return &File{f: f, path: path, perm: perm}, nil
}

// Name returns the destination path.
func (f *File) Name() string {
	return f.path
}

// TempName returns the path of the temporary file holding pending writes.
func (f *File) TempName() string {
	return f.f.Name()
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.f.Write(p)
}

// Commit makes the written data visible at the destination path. If Commit
// fails the temporary file is removed.
func (f *File) Commit() error {
	if f.done {
		return fmt.Errorf("atomicfile: %s already committed or discarded", f.path)
	}
	f.done = true

	err := f.f.Chmod(f.perm)
	if err == nil {
		err = f.f.Sync()
	}
	if cerr := f.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(f.f.Name(), f.path)
	}
	if err != nil {
		_ = os.Remove(f.f.Name())
		return fmt.Errorf("failed to commit %s: %w", f.path, err)
	}

	return nil
}

// Discard abandons the pending write. It is safe to call after Commit, in
// which case it does nothing, so it can be deferred unconditionally.
func (f *File) Discard() error {
	if f.done {
		return nil
	}
	f.done = true

	_ = f.f.Close()
	if err := os.Remove(f.f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary file %s: %w", f.f.Name(), err)
	}

	return nil
}
