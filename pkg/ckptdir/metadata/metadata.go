// Package metadata persists small per-checkpoint records: when a working
// directory was created and when it was committed.
//
// Writes are asynchronous. AsyncStore applies them in submission order on a
// single worker goroutine and exposes Drain as its only synchronization
// point; the commit protocol drains before and after recording the commit
// timestamp so that the timestamp is durable before the checkpoint becomes
// visible.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// FileName is the name of the metadata file inside a checkpoint directory.
const FileName = "_CHECKPOINT_METADATA"

// FilePath returns the metadata file path for a checkpoint directory.
func FilePath(dir string) string {
	return storage.Join(dir, FileName)
}

// Sentinel errors for metadata operations.
var (
	// ErrNotFound indicates no record exists at the path.
	ErrNotFound = errors.New("step metadata not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("metadata store closed")
)

// StepMetadata is the record stored next to a checkpoint.
// A nil CommitTimestampNsecs marks a checkpoint that was never finalized.
type StepMetadata struct {
	InitTimestampNsecs   int64  `json:"init_timestamp_nsecs"`
	CommitTimestampNsecs *int64 `json:"commit_timestamp_nsecs,omitempty"`
}

// New returns a record initialized at t.
func New(t time.Time) StepMetadata {
	return StepMetadata{InitTimestampNsecs: t.UnixNano()}
}

// Committed reports whether the record carries a commit timestamp.
func (m StepMetadata) Committed() bool {
	return m.CommitTimestampNsecs != nil
}

// InitTime returns the creation time.
func (m StepMetadata) InitTime() time.Time {
	return time.Unix(0, m.InitTimestampNsecs)
}

// CommitTime returns the commit time, or the zero time if uncommitted.
func (m StepMetadata) CommitTime() time.Time {
	if m.CommitTimestampNsecs == nil {
		return time.Time{}
	}
	return time.Unix(0, *m.CommitTimestampNsecs)
}

// Update holds the fields to change in an existing record. Nil fields are
// left unchanged.
type Update struct {
	InitTimestampNsecs   *int64
	CommitTimestampNsecs *int64
}

// CommitAt returns an Update recording a commit at t.
func CommitAt(t time.Time) Update {
	ns := t.UnixNano()
	return Update{CommitTimestampNsecs: &ns}
}

func (m StepMetadata) apply(u Update) StepMetadata {
	if u.InitTimestampNsecs != nil {
		m.InitTimestampNsecs = *u.InitTimestampNsecs
	}
	if u.CommitTimestampNsecs != nil {
		ns := *u.CommitTimestampNsecs
		m.CommitTimestampNsecs = &ns
	}
	return m
}

// Marshal serializes a record to JSON.
func (m StepMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal deserializes a record from JSON.
func Unmarshal(data []byte) (StepMetadata, error) {
	var m StepMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return StepMetadata{}, fmt.Errorf("decode step metadata: %w", err)
	}
	return m, nil
}

// Store persists step metadata records keyed by path.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write queues a full record for path, replacing any existing one.
	Write(ctx context.Context, path string, m StepMetadata) error

	// Update queues a partial update for path. A missing record is created
	// from the update alone.
	Update(ctx context.Context, path string, u Update) error

	// Drain blocks until every previously queued write is applied and
	// returns the errors those writes produced since the last Drain.
	Drain(ctx context.Context) error

	// Read returns the record at path. It does not wait for queued writes.
	// Returns ErrNotFound if no record exists.
	Read(ctx context.Context, path string) (StepMetadata, error)

	// Close drains outstanding writes and releases resources.
	Close() error
}

// Backend is the durable byte store under an AsyncStore.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores data under key, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Close releases resources.
	Close() error
}
