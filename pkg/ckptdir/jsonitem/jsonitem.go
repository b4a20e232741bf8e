// Package jsonitem saves a small JSON document as one item of a checkpoint.
package jsonitem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// DefaultFilename is the file written when Handler.Filename is empty.
const DefaultFilename = "metadata"

// Handler writes and reads a JSON document inside a checkpoint directory.
// Only the coordinator writes; every process can read.
type Handler struct {
	// Filename is the name of the file inside the directory.
	Filename string

	// Role decides which process writes.
	Role ckptdir.Role
}

func (h Handler) path(dir string) string {
	name := h.Filename
	if name == "" {
		name = DefaultFilename
	}
	return storage.Join(dir, name)
}

// Save encodes item as JSON into dir. Processes other than the coordinator
// return nil without writing.
func (h Handler) Save(ctx context.Context, st storage.Storage, dir string, item any) error {
	if !h.Role.IsCoordinator() {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode json item: %w", err)
	}
	p := h.path(dir)
	return ckpterrors.Storage("write", p, st.WriteText(ctx, p, string(data)))
}

// Restore decodes the JSON document in dir into v.
func (h Handler) Restore(ctx context.Context, st storage.Storage, dir string, v any) error {
	p := h.path(dir)
	text, err := st.ReadText(ctx, p)
	if err != nil {
		return ckpterrors.Storage("read", p, err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode json item %s: %w", p, err)
	}
	return nil
}
