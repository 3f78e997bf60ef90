package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	httpH "github.com/vitruvius-bim/vitruvius-backend/internal/http/handlers"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const testHash = "0123456789abcdef"

func newTestRouter(t *testing.T, checks map[string]httpH.CheckFunc) (*gin.Engine, *cache.ResultCache) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc, err := cache.New(cache.NewRedisBackend(rdb), logger.NewNop())
	require.NoError(t, err)

	log := logger.NewNop()
	r := NewRouter(RouterConfig{
		Log:           log,
		Metrics:       observability.NewMetrics(),
		HealthHandler: httpH.NewHealthHandler(checks),
		CacheHandler:  httpH.NewCacheHandler(log, rc),
	})
	return r, rc
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	rec := do(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}


func TestReadyzReportsFailingCheck(t *testing.T) {
	r, _ := newTestRouter(t, map[string]httpH.CheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
		"neo4j":    nil,
	})
	rec := do(r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.NotContains(t, body.Checks, "neo4j")
}

func TestCacheStatsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	r, rc := newTestRouter(t, nil)
	require.NoError(t, rc.Put(ctx, testHash, cache.KindModel, []byte(`{}`)))

	rec := do(r, http.MethodGet, "/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.NamespaceKeys)
	assert.Equal(t, "vitruvius:ifc:", st.Prefix)

	rec = do(r, http.MethodDelete, "/v1/cache/"+testHash)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)

	rec = do(r, http.MethodDelete, "/v1/cache/not-a-hash")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_argument")
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	do(r, http.MethodGet, "/healthz")
	rec := do(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `route="/healthz"`), rec.Body.String())
}

func TestServerStopsWithContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(logger.NewNop(), ln.Addr().String(), RouterConfig{HealthHandler: httpH.NewHealthHandler(nil)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
