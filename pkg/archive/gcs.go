//go:build gcs
// +build gcs

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCS mirrors blobs to a Google Cloud Storage bucket. Compiled in only
// with the gcs build tag; the default build resolves the backend to an
// "unsupported" error instead.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCS(ctx context.Context, cfg Config) (Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: creating GCS client: %w", err)
	}
	prefix := cfg.GCSPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCS{client: client, bucket: cfg.GCSBucket, prefix: prefix}, nil
}

var _ Store = (*GCS)(nil)

func (g *GCS) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key)
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if ok, err := g.Exists(ctx, key); err == nil && ok {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}
	w := g.object(key).NewWriter(ctx)
	w.ContentType = contentType(key)
	if size > 0 {
		w.ChunkSize = 0 // single-request upload for small blobs
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: gcs publish %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("archive: gcs head %s: %w", key, err)
	}
	return true, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("archive: gcs delete %s: %w", key, err)
	}
	return nil
}
