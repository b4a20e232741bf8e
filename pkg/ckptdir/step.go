package ckptdir

import (
	"context"
	"errors"
	"strings"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// On-disk names shared with other readers of the checkpoint tree.
const (
	// TmpDirSuffix separates the final name from the counter in a rename
	// temporary.
	TmpDirSuffix = ".orbax-checkpoint-tmp-"

	// CommitSuccessFile marks a sentinel checkpoint as complete.
	CommitSuccessFile = "commit_success"
)

// IsTmpCheckpoint reports whether path is an unfinished checkpoint directory
// under either strategy: its name carries TmpDirSuffix, or CommitSuccessFile
// is absent and either the storage has no atomic rename or the directory
// holds a step metadata record without a commit timestamp.
//
// On atomic-rename storage a directory without CommitSuccessFile is also
// what Rename produces, so only the uncommitted metadata record marks a
// Sentinel save that never finished there. Unparseable metadata counts as
// unfinished.
func IsTmpCheckpoint(ctx context.Context, st storage.Storage, path string) (bool, error) {
	isDir, err := st.IsDir(ctx, path)
	if err != nil || !isDir {
		return false, err
	}
	if strings.Contains(storage.Base(path), TmpDirSuffix) {
		return true, nil
	}
	noSentinel, err := Sentinel.IsIncomplete(ctx, st, path)
	if err != nil || !noSentinel {
		return false, err
	}
	if !st.Capabilities().AtomicRename {
		return true, nil
	}

	data, err := metadata.NewFileBackend(st).Get(ctx, metadata.FilePath(path))
	if errors.Is(err, metadata.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m, err := metadata.Unmarshal(data)
	if err != nil {
		return true, nil
	}
	return !m.Committed(), nil
}

// IsFinalized reports whether path is a complete checkpoint directory.
func IsFinalized(ctx context.Context, st storage.Storage, path string) (bool, error) {
	isDir, err := st.IsDir(ctx, path)
	if err != nil || !isDir {
		return false, err
	}
	tmp, err := IsTmpCheckpoint(ctx, st, path)
	return !tmp, err
}

// Status is the completion state of a checkpoint directory.
type Status string

const (
	StatusFinalized  Status = "finalized"
	StatusIncomplete Status = "incomplete"
)

// CheckpointInfo describes one directory found by ListCheckpoints.
type CheckpointInfo struct {
	Name   string
	Path   string
	Status Status

	// Metadata is nil when the directory has no readable step metadata.
	Metadata *metadata.StepMetadata
}

// ListCheckpoints describes every directory directly under dir, in name
// order. A missing dir yields an empty list.
func ListCheckpoints(ctx context.Context, st storage.Storage, dir string) ([]CheckpointInfo, error) {
	names, err := st.List(ctx, dir)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []CheckpointInfo
	for _, name := range names {
		p := storage.Join(dir, name)
		isDir, err := st.IsDir(ctx, p)
		if err != nil {
			return nil, err
		}
		if !isDir {
			continue
		}
		tmp, err := IsTmpCheckpoint(ctx, st, p)
		if err != nil {
			return nil, err
		}
		info := CheckpointInfo{Name: name, Path: p, Status: StatusFinalized}
		if tmp {
			info.Status = StatusIncomplete
		}
		if m, err := metadata.ReadFile(ctx, st, p); err == nil {
			info.Metadata = &m
		}
		out = append(out, info)
	}
	return out, nil
}
