package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const scheme = "gs://"

// ParseObjectRef splits gs://bucket/key. A reference with an empty bucket
// ("gs:///key") resolves against defaultBucket.
func ParseObjectRef(ref, defaultBucket string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		bucket = defaultBucket
	}
	if bucket == "" || strings.TrimSpace(key) == "" {
		return "", "", false
	}
	return bucket, key, true
}

// ObjectFetcher downloads gs:// model files to local temp files so the
// extractor (and the sandbox child) can read them from disk. Other references
// are treated as local paths and returned unchanged.
type ObjectFetcher struct {
	log           *logger.Logger
	client        *storage.Client
	defaultBucket string
	tempDir       string
}

func NewObjectFetcher(ctx context.Context, baseLog *logger.Logger, cfg config.Storage) (*ObjectFetcher, error) {
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	log := baseLog.With("component", "ObjectFetcher")
	log.Info("Object storage initialized", "default_bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)
	return &ObjectFetcher{
		log:           log,
		client:        client,
		defaultBucket: cfg.Bucket,
		tempDir:       cfg.TempDir,
	}, nil
}

func newStorageClient(ctx context.Context, cfg config.Storage) (*storage.Client, error) {
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		// the client reads the emulator endpoint from the environment
		if err := os.Setenv("STORAGE_EMULATOR_HOST", host); err != nil {
			return nil, err
		}
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
	return storage.NewClient(ctx, opts...)
}

// Fetch implements the job handler's fetcher contract. cleanup is never nil
// on success.
func (f *ObjectFetcher) Fetch(ctx context.Context, ref string) (string, func(), error) {
	const op = "gcp.Fetch"
	bucket, key, ok := ParseObjectRef(ref, f.defaultBucket)
	if !ok {
		if strings.HasPrefix(ref, scheme) {
			return "", nil, apperr.Newf(apperr.InvalidArgument, op, "malformed object reference %q", ref)
		}
		return ref, func() {}, nil
	}

	r, err := f.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return "", nil, apperr.Newf(apperr.IOFailure, op, "object %s not found", ref)
		}
		return "", nil, apperr.New(apperr.IOFailure, op, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(f.tempDir, "vitruvius_model_*"+path.Ext(key))
	if err != nil {
		return "", nil, apperr.New(apperr.IOFailure, op, err)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("could not remove fetched model", "path", tmp.Name(), "error", err)
		}
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, apperr.New(apperr.IOFailure, op, err)
	}
	f.log.Info("fetched model file", "bucket", bucket, "key", key, "bytes", n)
	return tmp.Name(), cleanup, nil
}

func (f *ObjectFetcher) Close() error { return f.client.Close() }
