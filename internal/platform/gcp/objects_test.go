package gcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

func TestParseObjectRef(t *testing.T) {
	cases := []struct {
		ref, def    string
		bucket, key string
		ok          bool
	}{
		{"gs://models/tower/a.ifc", "", "models", "tower/a.ifc", true},
		{"gs:///tower/a.ifc", "uploads", "uploads", "tower/a.ifc", true},
		{"gs:///tower/a.ifc", "", "", "", false},
		{"gs://models/", "", "", "", false},
		{"gs://models", "", "", "", false},
		{"/data/a.ifc", "uploads", "", "", false},
	}
	for _, tc := range cases {
		b, k, ok := ParseObjectRef(tc.ref, tc.def)
		assert.Equal(t, tc.ok, ok, tc.ref)
		assert.Equal(t, tc.bucket, b, tc.ref)
		assert.Equal(t, tc.key, k, tc.ref)
	}
}

func TestFetchPassesLocalPathsThrough(t *testing.T) {
	f := &ObjectFetcher{log: logger.NewNop()}
	p, cleanup, err := f.Fetch(context.Background(), "/data/tower.ifc")
	require.NoError(t, err)
	assert.Equal(t, "/data/tower.ifc", p)
	cleanup()
}

func TestFetchRejectsMalformedRef(t *testing.T) {
	f := &ObjectFetcher{log: logger.NewNop()}
	_, _, err := f.Fetch(context.Background(), "gs://bucket-only")
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))
}
