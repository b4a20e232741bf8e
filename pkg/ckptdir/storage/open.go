package storage

import (
	"context"
	"strings"

	"google.golang.org/api/option"
)

// Open returns a backend for uri: GCS for "gs://" URIs, Local otherwise.
// GCS client options are only used for gs:// URIs.
func Open(ctx context.Context, uri string, opts ...option.ClientOption) (Storage, error) {
	if strings.HasPrefix(uri, "gs://") {
		return NewGCS(ctx, opts...)
	}
	return NewLocal(), nil
}
