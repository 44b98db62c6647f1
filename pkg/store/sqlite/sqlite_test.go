package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfeed/pkg/models"
	"igfeed/pkg/store/sqlite"
	"igfeed/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))
	storetest.Run(t, s)
}

func TestOpenFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "igfeed.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.CreateIdentity(ctx, &models.Identity{Handle: "acc1", Secret: "pw", Active: true}))
	require.NoError(t, s.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	id, err := reopened.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc1", id.Handle)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open("")
	assert.Error(t, err)
}
