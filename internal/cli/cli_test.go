package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tower = "../ifc/testdata/tower.ifc"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VITRUVIUS_LOG_LEVEL", "error")
	t.Setenv("VITRUVIUS_SANDBOX_ENABLED", "false")
}

func TestCacheStatsAndInvalidateByFile(t *testing.T) {
	quietEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("VITRUVIUS_REDIS_ADDR", mr.Addr())

	out, err := run(t, "cache", "stats")
	require.NoError(t, err, out)
	var st struct {
		Prefix string `json:"prefix"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "vitruvius:ifc:", st.Prefix)

	out, err = run(t, "cache", "invalidate", tower)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 keys deleted")
}

func TestCacheInvalidateMissingFile(t *testing.T) {
	quietEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("VITRUVIUS_REDIS_ADDR", mr.Addr())

	_, err := run(t, "cache", "invalidate", "does-not-exist.ifc")
	assert.Error(t, err)
}

func TestClashFederated(t *testing.T) {
	quietEnv(t)
	out, err := run(t, "clash", "federated", tower, tower)
	require.NoError(t, err, out)

	var res struct {
		ModelA string            `json:"model_a"`
		Count  int               `json:"count"`
		Items  []json.RawMessage `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "tower.ifc", res.ModelA)
	assert.Len(t, res.Items, res.Count)
}

func TestProcessRejectsBadIDs(t *testing.T) {
	quietEnv(t)
	_, err := run(t, "process", "--project", "nope", "--model", "nope", "--file", tower)
	assert.ErrorContains(t, err, "--project")
}

func TestSolutionsListNeedsBothGlobalIDs(t *testing.T) {
	quietEnv(t)
	_, err := run(t, "solutions", "list", "--project", "00000000-0000-0000-0000-000000000001", "--pair", "beam-1")
	assert.ErrorContains(t, err, "two GlobalIds")
}

func TestClashProjectRejectsBadID(t *testing.T) {
	quietEnv(t)
	_, err := run(t, "clash", "project", "--project", "tower")
	assert.ErrorContains(t, err, "--project")
}

func TestJobsStatusRejectsBadID(t *testing.T) {
	quietEnv(t)
	_, err := run(t, "jobs", "status", "not-a-uuid")
	assert.ErrorContains(t, err, "not-a-uuid")
}
