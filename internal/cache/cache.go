// Package cache stores pipeline artifacts keyed by file content hash.
//
// A lookup has three outcomes: a hit, ErrMiss, or an apperr with code
// cache_unavailable. Callers treat the last one as a miss and carry on.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type ArtifactKind string

const (
	KindModel     ArtifactKind = "model"
	KindConflicts ArtifactKind = "conflicts"
	KindAnalysis  ArtifactKind = "analysis"
	KindMetadata  ArtifactKind = "metadata"

	// KindInterModel holds federated clashes for a pair of models. Its
	// hash is the two content hashes joined in sorted order.
	KindInterModel ArtifactKind = "inter_model_clashes"
)

var Kinds = []ArtifactKind{KindModel, KindConflicts, KindAnalysis, KindMetadata}

const (
	DefaultPrefix = "vitruvius:ifc:"
	DefaultTTL    = 7 * 24 * time.Hour

	markerJSON = 'j'
	markerZstd = 'z'
)

type Stats struct {
	BackendStats
	Prefix string `json:"prefix"`
	TTL    string `json:"ttl"`
}

type Option func(*ResultCache)

func WithPrefix(prefix string) Option {
	return func(c *ResultCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCompression toggles zstd for values written from now on. Reads accept
// both encodings regardless.
func WithCompression(on bool) Option {
	return func(c *ResultCache) { c.compress = on }
}

// WithSettings scopes the keys of kinds to a settings fingerprint, so
// artifacts computed under other detection or costing settings are not
// served. See Fingerprint.
func WithSettings(fingerprint string, kinds ...ArtifactKind) Option {
	return func(c *ResultCache) {
		if fingerprint == "" {
			return
		}
		if c.variants == nil {
			c.variants = make(map[ArtifactKind]string, len(kinds))
		}
		for _, k := range kinds {
			c.variants[k] = fingerprint
		}
	}
}

// Fingerprint digests settings values into a short key component.
func Fingerprint(settings ...any) string {
	d := xxhash.New()
	for _, v := range settings {
		fmt.Fprintf(d, "%v\x00", v)
	}
	return fmt.Sprintf("%08x", uint32(d.Sum64()))
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

type ResultCache struct {
	backend  Backend
	prefix   string
	ttl      time.Duration
	compress bool
	variants map[ArtifactKind]string
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	log      *logger.Logger
	metrics  *observability.Metrics
}

func New(backend Backend, baseLog *logger.Logger, opts ...Option) (*ResultCache, error) {
	if backend == nil {
		return nil, fmt.Errorf("cache backend required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	c := &ResultCache{
		backend:  backend,
		prefix:   DefaultPrefix,
		ttl:      DefaultTTL,
		compress: true,
		enc:      enc,
		dec:      dec,
		log:      baseLog.With("component", "ResultCache"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *ResultCache) Key(kind ArtifactKind, contentHash string) string {
	if v, ok := c.variants[kind]; ok {
		return c.prefix + string(kind) + "." + v + ":" + contentHash
	}
	return c.prefix + string(kind) + ":" + contentHash
}

func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Get returns the raw artifact bytes, ErrMiss, or a cache_unavailable error.
func (c *ResultCache) Get(ctx context.Context, contentHash string, kind ArtifactKind) ([]byte, error) {
	raw, err := c.backend.Get(ctx, c.Key(kind, contentHash))
	if errors.Is(err, ErrMiss) {
		c.metrics.IncCache(string(kind), "miss")
		return nil, ErrMiss
	}
	if err != nil {
		c.metrics.IncCache(string(kind), "error")
		c.log.Warn("cache get failed", "kind", kind, "hash", contentHash, "error", err)
		return nil, apperr.New(apperr.CacheUnavailable, "cache.Get", err)
	}
	val, err := c.decode(raw)
	if err != nil {
		// a corrupt entry is indistinguishable from an absent one to callers
		c.metrics.IncCache(string(kind), "miss")
		c.log.Warn("cache entry undecodable, treating as miss", "kind", kind, "hash", contentHash, "error", err)
		return nil, ErrMiss
	}
	c.metrics.IncCache(string(kind), "hit")
	return val, nil
}

func (c *ResultCache) Put(ctx context.Context, contentHash string, kind ArtifactKind, val []byte) error {
	if err := c.backend.Set(ctx, c.Key(kind, contentHash), c.encode(val), c.ttl); err != nil {
		c.metrics.IncCache(string(kind), "error")
		c.log.Warn("cache put failed", "kind", kind, "hash", contentHash, "error", err)
		return apperr.New(apperr.CacheUnavailable, "cache.Put", err)
	}
	c.metrics.IncCache(string(kind), "write")
	return nil
}

// GetJSON decodes a cached artifact into dst.
func (c *ResultCache) GetJSON(ctx context.Context, contentHash string, kind ArtifactKind, dst any) error {
	raw, err := c.Get(ctx, contentHash, kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("cached artifact is not valid JSON, treating as miss", "kind", kind, "hash", contentHash, "error", err)
		return ErrMiss
	}
	return nil
}

func (c *ResultCache) PutJSON(ctx context.Context, contentHash string, kind ArtifactKind, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperr.New(apperr.Internal, "cache.PutJSON", err)
	}
	return c.Put(ctx, contentHash, kind, raw)
}

// Invalidate removes every artifact kind stored for contentHash.
func (c *ResultCache) Invalidate(ctx context.Context, contentHash string) (int, error) {
	n, err := c.backend.DeletePattern(ctx, c.prefix+"*:"+contentHash)
	if err != nil {
		c.log.Warn("cache invalidate failed", "hash", contentHash, "error", err)
		return n, apperr.New(apperr.CacheUnavailable, "cache.Invalidate", err)
	}
	c.log.Info("cache invalidated", "hash", contentHash, "deleted", n)
	return n, nil
}

func (c *ResultCache) Stats(ctx context.Context) (Stats, error) {
	bs, err := c.backend.Stats(ctx, c.prefix+"*")
	out := Stats{BackendStats: bs, Prefix: c.prefix, TTL: c.ttl.String()}
	if err != nil {
		return out, apperr.New(apperr.CacheUnavailable, "cache.Stats", err)
	}
	return out, nil
}

func (c *ResultCache) encode(val []byte) []byte {
	if !c.compress {
		out := make([]byte, 0, len(val)+1)
		out = append(out, markerJSON)
		return append(out, val...)
	}
	out := make([]byte, 1, len(val)/2+1)
	out[0] = markerZstd
	return c.enc.EncodeAll(val, out)
}

func (c *ResultCache) decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty cache entry")
	}
	switch raw[0] {
	case markerJSON:
		return raw[1:], nil
	case markerZstd:
		return c.dec.DecodeAll(raw[1:], nil)
	default:
		return nil, fmt.Errorf("unknown cache entry marker %q", raw[0])
	}
}
