package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

func newTestCache(t *testing.T, opts ...Option) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c, err := New(NewRedisBackend(rdb), logger.NewNop(), opts...)
	require.NoError(t, err)
	return c, mr
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, compress := range []bool{true, false} {
		c, mr := newTestCache(t, WithCompression(compress))
		payload := []byte(`{"elements":[{"global_id":"1hOSvn6df7F8_7GcBWlRGQ"}]}`)

		require.NoError(t, c.Put(ctx, "abc123", KindModel, payload))
		got, err := c.Get(ctx, "abc123", KindModel)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		assert.True(t, mr.Exists("vitruvius:ifc:model:abc123"))
		assert.Equal(t, 7*24*time.Hour, mr.TTL("vitruvius:ifc:model:abc123"))
	}
}

func TestKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	require.NoError(t, c.Put(ctx, "h1", KindModel, []byte(`{}`)))

	_, err := c.Get(ctx, "h1", KindConflicts)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "h2", KindModel)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, WithTTL(time.Minute))
	require.NoError(t, c.Put(ctx, "h", KindMetadata, []byte(`{"total_elements":3}`)))

	mr.FastForward(2 * time.Minute)
	_, err := c.Get(ctx, "h", KindMetadata)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestBackendFailureIsCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.SetError("LOADING dataset in memory")

	_, err := c.Get(ctx, "h", KindModel)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.True(t, apperr.Is(err, apperr.CacheUnavailable))

	err = c.Put(ctx, "h", KindModel, []byte(`{}`))
	assert.True(t, apperr.Is(err, apperr.CacheUnavailable))

	mr.SetError("")
	require.NoError(t, c.Put(ctx, "h", KindModel, []byte(`{}`)))
}

func TestCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("vitruvius:ifc:analysis:h", "\x00garbage"))
	_, err := c.Get(ctx, "h", KindAnalysis)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, mr.Set("vitruvius:ifc:analysis:h", "jnot json"))
	var v map[string]any
	assert.ErrorIs(t, c.GetJSON(ctx, "h", KindAnalysis, &v), ErrMiss)
}

func TestInvalidateRemovesAllKindsForHash(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	for _, k := range Kinds {
		require.NoError(t, c.PutJSON(ctx, "target", k, map[string]int{"n": 1}))
		require.NoError(t, c.PutJSON(ctx, "other", k, map[string]int{"n": 2}))
	}
	require.NoError(t, mr.Set("unrelated:key", "x"))

	n, err := c.Invalidate(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, len(Kinds), n)

	for _, k := range Kinds {
		_, err := c.Get(ctx, "target", k)
		assert.ErrorIs(t, err, ErrMiss)
		var got map[string]int
		require.NoError(t, c.GetJSON(ctx, "other", k, &got))
		assert.Equal(t, 2, got["n"])
	}
	assert.True(t, mr.Exists("unrelated:key"))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, WithPrefix("test:ifc:"))
	require.NoError(t, c.Put(ctx, "a", KindModel, []byte(`{}`)))
	require.NoError(t, c.Put(ctx, "b", KindModel, []byte(`{}`)))
	require.NoError(t, mr.Set("elsewhere", "1"))

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalKeys)
	assert.Equal(t, int64(2), st.NamespaceKeys)
	assert.Equal(t, "test:ifc:", st.Prefix)
	assert.NotEmpty(t, st.MemoryUsed)
}

func TestInfoField(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\n"
	assert.Equal(t, "1.00M", infoField(info, "used_memory_human"))
	assert.Equal(t, "", infoField(info, "maxmemory_human"))
}

func TestSettingsScopeKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	typePair := Fingerprint("type_pair", 50.0, 100000.0, 60.0)
	boxes := Fingerprint("bounding_box", 50.0, 100000.0, 60.0)
	require.NotEqual(t, typePair, boxes)
	require.Equal(t, typePair, Fingerprint("type_pair", 50.0, 100000.0, 60.0))

	before, err := New(NewRedisBackend(rdb), logger.NewNop(), WithSettings(typePair, KindConflicts))
	require.NoError(t, err)
	after, err := New(NewRedisBackend(rdb), logger.NewNop(), WithSettings(boxes, KindConflicts))
	require.NoError(t, err)

	require.NoError(t, before.PutJSON(ctx, "h1", KindConflicts, []int{1, 2, 3}))
	require.NoError(t, before.PutJSON(ctx, "h1", KindModel, map[string]int{"n": 1}))
	assert.True(t, mr.Exists("vitruvius:ifc:conflicts."+typePair+":h1"))

	var conflicts []int
	assert.ErrorIs(t, after.GetJSON(ctx, "h1", KindConflicts, &conflicts), ErrMiss)
	var model map[string]int
	require.NoError(t, after.GetJSON(ctx, "h1", KindModel, &model), "unscoped kinds are shared")

	n, err := after.Invalidate(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
