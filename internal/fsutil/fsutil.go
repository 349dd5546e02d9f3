// Package fsutil is the filesystem facade the core packages depend on
// instead of calling os directly, so tests can substitute an in-memory
// fake. It is deliberately thin: spec.md §1 places a full VFS out of scope.
package fsutil

import (
	"os"
	"path/filepath"
	"time"
)

// FS is the subset of filesystem operations the compile rule, dep-db, and
// buildfile parser need.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	Glob(pattern string) ([]string, error)
	Open(path string) (*os.File, error)
	Chtimes(path string, atime, mtime time.Time) error
}

// OS is the real filesystem.
type OS struct{}

func (OS) Stat(path string) (os.FileInfo, error)     { return os.Stat(path) }
func (OS) ReadFile(path string) ([]byte, error)       { return os.ReadFile(path) }
func (OS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (OS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OS) Remove(path string) error                     { return os.Remove(path) }
func (OS) Glob(pattern string) ([]string, error)         { return filepath.Glob(pattern) }
func (OS) Open(path string) (*os.File, error)            { return os.Open(path) }
func (OS) Chtimes(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}

// Mtime returns a path's modification time, or the zero time if it doesn't
// exist.
func Mtime(fs FS, path string) time.Time {
	info, err := fs.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Exists reports whether path exists.
func Exists(fs FS, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// Newer reports whether a's mtime is strictly after b's. A nonexistent path
// is treated as infinitely old.
func Newer(fs FS, a, b string) bool {
	return Mtime(fs, a).After(Mtime(fs, b))
}
