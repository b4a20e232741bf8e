// Package storage provides the hierarchical namespaces checkpoint
// directories are written to.
//
// Backends differ in what they guarantee. Local filesystems offer an atomic
// directory rename; object stores such as GCS do not, and emulate rename by
// copying and deleting objects. Callers inspect Capabilities to pick a
// commit strategy that is safe for the backend.
package storage

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"
)

// Errors returned by all backends. They are the io/fs sentinels, so errors
// from the os package match with errors.Is as well.
var (
	ErrExist    = fs.ErrExist
	ErrNotExist = fs.ErrNotExist
)

// Capabilities describes the atomicity guarantees of a backend.
type Capabilities struct {
	// AtomicRename is true when Rename switches a whole directory tree to
	// its new name in a single step visible to all readers.
	AtomicRename bool
}

// MkdirOptions controls MakeDirs.
type MkdirOptions struct {
	// Parents creates missing parent directories.
	Parents bool

	// FailIfExists makes the final creation step fail with ErrExist when
	// the directory already exists.
	FailIfExists bool

	// Mode is the permission mode for created directories. Backends without
	// permissions ignore it.
	Mode fs.FileMode
}

// Storage is a hierarchical namespace of directories and text files.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Exists reports whether path names a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether path names a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// MakeDirs creates the directory at path.
	MakeDirs(ctx context.Context, path string, opts MkdirOptions) error

	// RemoveAll deletes path and everything below it.
	// Returns nil if path does not exist.
	RemoveAll(ctx context.Context, path string) error

	// Rename moves src to dst. dst must not exist.
	Rename(ctx context.Context, src, dst string) error

	// WriteText writes content to the file at path, replacing it.
	WriteText(ctx context.Context, path, content string) error

	// ReadText returns the content of the file at path.
	ReadText(ctx context.Context, path string) (string, error)

	// List returns the names of the direct children of the directory at
	// path, sorted. Returns ErrNotExist if the directory does not exist.
	List(ctx context.Context, path string) ([]string, error)

	// Capabilities reports the backend's atomicity guarantees.
	Capabilities() Capabilities
}

// Close releases resources held by st if it holds any.
func Close(st Storage) error {
	if c, ok := st.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// splitScheme separates a "scheme://" prefix from the rest of p.
func splitScheme(p string) (scheme, rest string) {
	if i := strings.Index(p, "://"); i >= 0 {
		return p[:i+3], p[i+3:]
	}
	return "", p
}

// Join joins path elements with slashes, preserving a leading URI scheme.
func Join(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	scheme, first := splitScheme(elem[0])
	parts := append([]string{first}, elem[1:]...)
	return scheme + path.Join(parts...)
}

// Dir returns all but the last element of p, preserving a URI scheme.
func Dir(p string) string {
	scheme, rest := splitScheme(p)
	return scheme + path.Dir(rest)
}

// Base returns the last element of p.
func Base(p string) string {
	_, rest := splitScheme(p)
	return path.Base(rest)
}

// Clean normalizes p, preserving a URI scheme.
func Clean(p string) string {
	scheme, rest := splitScheme(p)
	return scheme + path.Clean(rest)
}
