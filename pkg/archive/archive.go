// Package archive mirrors committed contract blobs to off-box storage.
// The mirror is best-effort: the history store remains the source of
// truth, and callers log mirror failures instead of failing commits.
package archive

import (
	"context"
	"fmt"
	"io"
)

// Store is one mirror backend. Keys are slash-separated paths like
// <dataset>/<version>/contract.txt.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend   string // none | fs | s3 | gcs
	Dir       string
	S3Bucket  string
	S3Region  string
	S3Prefix  string
	GCSBucket string
	GCSPrefix string
}

// New builds the configured backend. Backend "none" (or empty) returns a
// discard store so callers never branch on nil.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return Discard{}, nil
	case "fs":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("archive: fs backend needs a directory")
		}
		return NewFS(cfg.Dir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend needs a bucket")
		}
		return NewS3(ctx, cfg)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("archive: gcs backend needs a bucket")
		}
		return newGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
}

// Discard accepts writes and holds nothing.
type Discard struct{}

func (Discard) Put(_ context.Context, _ string, r io.Reader, _ int64) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (Discard) Get(_ context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("archive: %s not mirrored", key)
}

func (Discard) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (Discard) Delete(_ context.Context, _ string) error { return nil }
