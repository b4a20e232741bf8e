package storage

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Storage for tests and single-process tools.
// Data is lost when the process exits.
type Memory struct {
	mu     sync.RWMutex
	dirs   map[string]fs.FileMode
	files  map[string]string
	caps   Capabilities
	faults map[string]error // op -> injected error
}

// Compile-time interface check.
var _ Storage = (*Memory)(nil)

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithoutAtomicRename makes the backend advertise object-store semantics,
// so callers select the sentinel commit strategy.
func WithoutAtomicRename() MemoryOption {
	return func(m *Memory) {
		m.caps.AtomicRename = false
	}
}

// NewMemory creates an empty in-memory backend containing only "/".
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		dirs:   map[string]fs.FileMode{"/": fs.ModeDir | 0o777},
		files:  make(map[string]string),
		caps:   Capabilities{AtomicRename: true},
		faults: make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func memClean(p string) string {
	p = strings.TrimPrefix(p, "mem://")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// InjectFault makes every subsequent call of op fail with err until
// ClearFaults is called. Ops: exists, isdir, mkdir, remove, rename, write,
// read, list.
func (m *Memory) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// ClearFaults removes all injected faults.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string]error)
}

func (m *Memory) fault(op, p string) error {
	if err, ok := m.faults[op]; ok {
		return &fs.PathError{Op: op, Path: p, Err: err}
	}
	return nil
}

// Capabilities implements Storage.
func (m *Memory) Capabilities() Capabilities {
	return m.caps
}

// Exists implements Storage.
func (m *Memory) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = memClean(p)
	if err := m.fault("exists", p); err != nil {
		return false, err
	}
	_, isDir := m.dirs[p]
	_, isFile := m.files[p]
	return isDir || isFile, nil
}

// IsDir implements Storage.
func (m *Memory) IsDir(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = memClean(p)
	if err := m.fault("isdir", p); err != nil {
		return false, err
	}
	_, ok := m.dirs[p]
	return ok, nil
}

// MakeDirs implements Storage.
func (m *Memory) MakeDirs(ctx context.Context, p string, opts MkdirOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p = memClean(p)
	if err := m.fault("mkdir", p); err != nil {
		return err
	}
	mode := opts.Mode
	if mode == 0 {
		mode = 0o777
	}

	if _, ok := m.files[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if _, ok := m.dirs[p]; ok {
		if opts.FailIfExists {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
		return nil
	}

	parent := path.Dir(p)
	if _, ok := m.dirs[parent]; !ok {
		if !opts.Parents {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
		}
		var missing []string
		for d := parent; ; d = path.Dir(d) {
			if _, ok := m.files[d]; ok {
				return &fs.PathError{Op: "mkdir", Path: d, Err: fs.ErrExist}
			}
			if _, ok := m.dirs[d]; ok {
				break
			}
			missing = append(missing, d)
		}
		for _, d := range missing {
			m.dirs[d] = fs.ModeDir | mode
		}
	}
	m.dirs[p] = fs.ModeDir | mode
	return nil
}

// Mode returns the permission bits recorded for the directory at p.
func (m *Memory) Mode(p string) (fs.FileMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mode, ok := m.dirs[memClean(p)]
	return mode.Perm(), ok
}

func under(p, root string) bool {
	return p == root || strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/")
}

// RemoveAll implements Storage.
func (m *Memory) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p = memClean(p)
	if err := m.fault("remove", p); err != nil {
		return err
	}
	for d := range m.dirs {
		if under(d, p) && d != "/" {
			delete(m.dirs, d)
		}
	}
	for f := range m.files {
		if under(f, p) {
			delete(m.files, f)
		}
	}
	return nil
}

// Rename implements Storage.
func (m *Memory) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, dst = memClean(src), memClean(dst)
	if err := m.fault("rename", src); err != nil {
		return err
	}
	_, srcDir := m.dirs[src]
	_, srcFile := m.files[src]
	if !srcDir && !srcFile {
		return &fs.PathError{Op: "rename", Path: src, Err: fs.ErrNotExist}
	}
	if _, ok := m.dirs[dst]; ok {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrExist}
	}
	if _, ok := m.files[dst]; ok {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrExist}
	}
	if _, ok := m.dirs[path.Dir(dst)]; !ok {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrNotExist}
	}

	move := func(p string) string { return dst + strings.TrimPrefix(p, src) }
	dirs := make(map[string]fs.FileMode)
	for d, mode := range m.dirs {
		if under(d, src) {
			dirs[move(d)] = mode
			delete(m.dirs, d)
		}
	}
	for d, mode := range dirs {
		m.dirs[d] = mode
	}
	files := make(map[string]string)
	for f, content := range m.files {
		if under(f, src) {
			files[move(f)] = content
			delete(m.files, f)
		}
	}
	for f, content := range files {
		m.files[f] = content
	}
	return nil
}

// WriteText implements Storage.
func (m *Memory) WriteText(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p = memClean(p)
	if err := m.fault("write", p); err != nil {
		return err
	}
	if _, ok := m.dirs[p]; ok {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrExist}
	}
	if _, ok := m.dirs[path.Dir(p)]; !ok {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrNotExist}
	}
	m.files[p] = content
	return nil
}

// ReadText implements Storage.
func (m *Memory) ReadText(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = memClean(p)
	if err := m.fault("read", p); err != nil {
		return "", err
	}
	content, ok := m.files[p]
	if !ok {
		return "", &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return content, nil
}

// List implements Storage.
func (m *Memory) List(ctx context.Context, p string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = memClean(p)
	if err := m.fault("list", p); err != nil {
		return nil, err
	}
	if _, ok := m.dirs[p]; !ok {
		return nil, &fs.PathError{Op: "list", Path: p, Err: fs.ErrNotExist}
	}
	var names []string
	for d := range m.dirs {
		if d != p && path.Dir(d) == p {
			names = append(names, path.Base(d))
		}
	}
	for f := range m.files {
		if path.Dir(f) == p {
			names = append(names, path.Base(f))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of files stored. Useful for testing.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
