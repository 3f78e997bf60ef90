package gcp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

func TestObjectFetcherEmulator(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("VITRUVIUS_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set VITRUVIUS_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}
	host := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	if host == "" {
		host = "http://127.0.0.1:4443"
	}
	if !isEmulatorReachable(host) {
		t.Skipf("storage emulator not reachable at %s", host)
	}

	bucket := fmt.Sprintf("vitruvius-it-%d", time.Now().UnixNano())
	body := []byte("ISO-10303-21;\nEND-ISO-10303-21;\n")
	emulatorPost(t, host+"/storage/v1/b?project=vitruvius", "application/json", []byte(fmt.Sprintf(`{"name":%q}`, bucket)))
	emulatorPost(t, host+"/upload/storage/v1/b/"+bucket+"/o?uploadType=media&name="+url.QueryEscape("models/a.ifc"), "application/octet-stream", body)

	ctx := context.Background()
	f, err := NewObjectFetcher(ctx, logger.NewNop(), config.Storage{EmulatorHost: host, TempDir: t.TempDir()})
	require.NoError(t, err)
	defer f.Close()

	p, cleanup, err := f.Fetch(ctx, "gs://"+bucket+"/models/a.ifc")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".ifc"))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, _, err = f.Fetch(ctx, "gs://"+bucket+"/missing.ifc")
	assert.Equal(t, apperr.IOFailure, apperr.CodeOf(err))
}

func isEmulatorReachable(host string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(host + "/storage/v1/b?project=vitruvius")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func emulatorPost(t *testing.T, u, contentType string, body []byte) {
	t.Helper()
	resp, err := http.Post(u, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "POST %s", u)
}
