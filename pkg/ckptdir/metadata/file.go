package metadata

import (
	"context"
	"errors"
	"io/fs"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// FileBackend stores each record as a JSON text file at its key, which is a
// storage path. Records written at FilePath(dir) travel with the directory
// when it is renamed, so this is the backend readers of finalized
// checkpoints expect.
type FileBackend struct {
	st storage.Storage
}

// Compile-time interface check.
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a backend writing through st.
func NewFileBackend(st storage.Storage) *FileBackend {
	return &FileBackend{st: st}
}

// Put implements Backend.
func (b *FileBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.st.WriteText(ctx, key, string(data))
}

// Get implements Backend.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	content, err := b.st.ReadText(ctx, key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

// Close implements Backend. The storage is owned by the caller.
func (b *FileBackend) Close() error {
	return nil
}

// NewFileStore is shorthand for an AsyncStore over a FileBackend.
func NewFileStore(st storage.Storage, opts ...AsyncOption) *AsyncStore {
	return NewAsyncStore(NewFileBackend(st), opts...)
}

// ReadFile reads the record stored inside dir without a store.
func ReadFile(ctx context.Context, st storage.Storage, dir string) (StepMetadata, error) {
	data, err := NewFileBackend(st).Get(ctx, FilePath(dir))
	if err != nil {
		return StepMetadata{}, err
	}
	return Unmarshal(data)
}
