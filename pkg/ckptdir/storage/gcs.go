package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores checkpoints in Google Cloud Storage.
//
// Paths are "gs://bucket/object/prefix" URIs. GCS has no directories, so a
// directory is represented by a zero-length placeholder object named
// "<prefix>/" plus any objects below that prefix. Rename copies every object
// and then deletes the originals; it is not atomic, which is why GCS does
// not report AtomicRename.
type GCS struct {
	client *gcs.Client
}

// Compile-time interface check.
var _ Storage = (*GCS)(nil)

// NewGCS creates a GCS backend with a new client.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

// NewGCSWithClient wraps an existing client. The caller keeps ownership of
// the client; Close on the returned value closes it.
func NewGCSWithClient(client *gcs.Client) *GCS {
	return &GCS{client: client}
}

// Close closes the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Capabilities implements Storage.
func (g *GCS) Capabilities() Capabilities {
	return Capabilities{AtomicRename: false}
}

// ParseGCSPath splits a gs:// URI into bucket and object name. The object
// name has no leading or trailing slash.
func ParseGCSPath(p string) (bucket, object string, err error) {
	if !strings.HasPrefix(p, "gs://") {
		return "", "", fmt.Errorf("not a gs:// path: %q", p)
	}
	rest := strings.TrimPrefix(Clean(p), "gs://")
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || bucket == "." {
		return "", "", fmt.Errorf("missing bucket in %q", p)
	}
	return bucket, strings.Trim(object, "/"), nil
}

// IsGCSPath reports whether p is a gs:// URI.
func IsGCSPath(p string) bool {
	return strings.HasPrefix(p, "gs://")
}

func dirPrefix(object string) string {
	if object == "" {
		return ""
	}
	return object + "/"
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (g *GCS) handle(p string) (*gcs.BucketHandle, string, error) {
	bucket, object, err := ParseGCSPath(p)
	if err != nil {
		return nil, "", err
	}
	return g.client.Bucket(bucket), object, nil
}

func (g *GCS) objectExists(ctx context.Context, b *gcs.BucketHandle, name string) (bool, error) {
	_, err := b.Object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (g *GCS) prefixExists(ctx context.Context, b *gcs.BucketHandle, prefix string) (bool, error) {
	it := b.Objects(ctx, &gcs.Query{Prefix: prefix})
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	return err == nil, err
}

// Exists implements Storage.
func (g *GCS) Exists(ctx context.Context, p string) (bool, error) {
	b, object, err := g.handle(p)
	if err != nil {
		return false, err
	}
	if object == "" {
		return true, nil
	}
	ok, err := g.objectExists(ctx, b, object)
	if err != nil || ok {
		return ok, err
	}
	return g.prefixExists(ctx, b, dirPrefix(object))
}

// IsDir implements Storage.
func (g *GCS) IsDir(ctx context.Context, p string) (bool, error) {
	b, object, err := g.handle(p)
	if err != nil {
		return false, err
	}
	if object == "" {
		return true, nil
	}
	return g.prefixExists(ctx, b, dirPrefix(object))
}

// MakeDirs implements Storage. Parents are implicit in GCS.
// FailIfExists is enforced with a DoesNotExist precondition on the
// placeholder object, so two concurrent creators cannot both succeed.
func (g *GCS) MakeDirs(ctx context.Context, p string, opts MkdirOptions) error {
	b, object, err := g.handle(p)
	if err != nil {
		return err
	}
	if object == "" {
		if opts.FailIfExists {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
		return nil
	}
	if opts.FailIfExists {
		exists, err := g.Exists(ctx, p)
		if err != nil {
			return err
		}
		if exists {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
	}

	obj := b.Object(dirPrefix(object))
	if opts.FailIfExists {
		obj = obj.If(gcs.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/x-directory"
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			if opts.FailIfExists {
				return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
			}
			return nil
		}
		return fmt.Errorf("failed to create directory placeholder %s: %w", p, err)
	}
	return nil
}

func (g *GCS) objectsUnder(ctx context.Context, b *gcs.BucketHandle, prefix string) ([]string, error) {
	var names []string
	it := b.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

// RemoveAll implements Storage.
func (g *GCS) RemoveAll(ctx context.Context, p string) error {
	b, object, err := g.handle(p)
	if err != nil {
		return err
	}
	if object == "" {
		return fmt.Errorf("refusing to remove bucket root %s", p)
	}
	names, err := g.objectsUnder(ctx, b, dirPrefix(object))
	if err != nil {
		return err
	}
	names = append(names, object)
	for _, name := range names {
		if err := b.Object(name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("delete gs://%s/%s: %w", b.BucketName(), name, err)
		}
	}
	return nil
}

// Rename implements Storage by copy-then-delete. A crash part way leaves
// objects under both names.
func (g *GCS) Rename(ctx context.Context, src, dst string) error {
	sb, sobj, err := g.handle(src)
	if err != nil {
		return err
	}
	db, dobj, err := g.handle(dst)
	if err != nil {
		return err
	}
	exists, err := g.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrExist}
	}

	names, err := g.objectsUnder(ctx, sb, dirPrefix(sobj))
	if err != nil {
		return err
	}
	if ok, err := g.objectExists(ctx, sb, sobj); err != nil {
		return err
	} else if ok {
		names = append(names, sobj)
	}
	if len(names) == 0 {
		return &fs.PathError{Op: "rename", Path: src, Err: fs.ErrNotExist}
	}

	for _, name := range names {
		target := dobj + strings.TrimPrefix(name, sobj)
		if _, err := db.Object(target).CopierFrom(sb.Object(name)).Run(ctx); err != nil {
			return fmt.Errorf("copy %s to %s: %w", name, target, err)
		}
	}
	for _, name := range names {
		if err := sb.Object(name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("delete %s after copy: %w", name, err)
		}
	}
	return nil
}

// WriteText implements Storage.
func (g *GCS) WriteText(ctx context.Context, p, content string) error {
	b, object, err := g.handle(p)
	if err != nil {
		return err
	}
	w := b.Object(object).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.WriteString(w, content); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("failed to write GCS object %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", p, err)
	}
	return nil
}

// ReadText implements Storage.
func (g *GCS) ReadText(ctx context.Context, p string) (string, error) {
	b, object, err := g.handle(p)
	if err != nil {
		return "", err
	}
	r, err := b.Object(object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return "", &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read GCS object %s: %w", p, err)
	}
	return string(data), nil
}

// List implements Storage.
func (g *GCS) List(ctx context.Context, p string) ([]string, error) {
	b, object, err := g.handle(p)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(object)
	it := b.Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: "/"})
	seen := make(map[string]struct{})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if attrs.Prefix != "" {
			name = attrs.Prefix
		}
		name = strings.TrimSuffix(strings.TrimPrefix(name, prefix), "/")
		if name == "" {
			continue // the placeholder itself
		}
		seen[name] = struct{}{}
	}
	if len(seen) == 0 && object != "" {
		if ok, err := g.IsDir(ctx, p); err != nil {
			return nil, err
		} else if !ok {
			return nil, &fs.PathError{Op: "list", Path: p, Err: fs.ErrNotExist}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
