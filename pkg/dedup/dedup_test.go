package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	existing map[string]bool
	lookups  int
	err      error
}

func (c *countingSource) ExistsByExternalID(ctx context.Context, id string) (bool, error) {
	c.lookups++
	return c.existing[id], c.err
}

func TestContains(t *testing.T) {
	src := &countingSource{existing: map[string]bool{"p2": true}}
	ix := New(src)
	ctx := context.Background()

	found, err := ix.Contains(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = ix.Contains(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, found)

	// p2 is memoized after the first positive lookup
	found, err = ix.Contains(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, src.lookups)
}

func TestRemember(t *testing.T) {
	src := &countingSource{}
	ix := New(src)
	ix.Remember("p1")

	found, err := ix.Contains(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, src.lookups)
}

func TestContainsError(t *testing.T) {
	ix := New(&countingSource{err: errors.New("connection refused")})

	_, err := ix.Contains(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup lookup p1")
}
