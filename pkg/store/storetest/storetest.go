// Package storetest holds the behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igfeed/pkg/errors"
	"igfeed/pkg/identity"
	"igfeed/pkg/models"
	"igfeed/pkg/store"
)

// Run exercises s, which must be migrated and empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("migrate is idempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(ctx))
	})

	t.Run("identities", func(t *testing.T) {
		_, err := s.FindActive(ctx)
		assert.ErrorIs(t, err, identity.ErrNoActiveIdentity)

		off := &models.Identity{Handle: "dormant", Secret: "x", Active: false}
		require.NoError(t, s.CreateIdentity(ctx, off))
		first := &models.Identity{Handle: "acc1", Secret: "pw1", Active: true}
		require.NoError(t, s.CreateIdentity(ctx, first))
		second := &models.Identity{Handle: "acc2", Secret: "pw2", Active: true}
		require.NoError(t, s.CreateIdentity(ctx, second))
		assert.NotZero(t, first.ID)
		assert.False(t, first.CreatedAt.IsZero())

		err = s.CreateIdentity(ctx, &models.Identity{Handle: "acc1", Secret: "other", Active: true})
		assert.ErrorIs(t, err, errs.ErrDuplicate)

		active, err := s.FindActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "acc1", active.Handle)
		assert.Equal(t, "pw1", active.Secret)

		used := time.Now().UTC().Truncate(time.Second)
		active.LastUsedAt = &used
		identity.Deactivate(active, "bad credentials", used)
		require.NoError(t, s.Update(ctx, active))

		reloaded, err := s.GetIdentity(ctx, "acc1")
		require.NoError(t, err)
		assert.False(t, reloaded.Active)
		assert.Contains(t, reloaded.Notes, "Deactivated: bad credentials")
		require.NotNil(t, reloaded.LastUsedAt)
		assert.WithinDuration(t, used, *reloaded.LastUsedAt, time.Second)

		next, err := s.FindActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "acc2", next.Handle)

		_, err = s.GetIdentity(ctx, "ghost")
		assert.ErrorIs(t, err, identity.ErrNotFound)

		err = s.Update(ctx, &models.Identity{ID: 999999, Handle: "ghost"})
		assert.ErrorIs(t, err, identity.ErrNotFound)

		all, err := s.ListIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "dormant", all[0].Handle)
	})

	t.Run("items", func(t *testing.T) {
		exists, err := s.ExistsByExternalID(ctx, "p1")
		require.NoError(t, err)
		assert.False(t, exists)

		posted := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		item := &models.Item{
			ExternalID:    "p1",
			SourceHandle:  "alice",
			Caption:       "hello",
			PayloadPaths:  []string{"alice/p1_1.jpg", "alice/p1_2.jpg"},
			LikesCount:    12,
			CommentsCount: 3,
			PostedAt:      posted,
			ScrapedAt:     time.Now().UTC(),
		}
		require.NoError(t, s.InsertItem(ctx, item))
		assert.NotZero(t, item.ID)

		exists, err = s.ExistsByExternalID(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := s.GetItem(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.SourceHandle)
		assert.Equal(t, []string{"alice/p1_1.jpg", "alice/p1_2.jpg"}, got.PayloadPaths)
		assert.Equal(t, 12, got.LikesCount)
		assert.True(t, got.PostedAt.Equal(posted))
		assert.False(t, got.Processed)

		dup := *item
		dup.ID = 0
		err = s.InsertItem(ctx, &dup)
		assert.ErrorIs(t, err, errs.ErrDuplicate)

		undated := &models.Item{ExternalID: "p2", SourceHandle: "alice", ScrapedAt: time.Now().UTC()}
		require.NoError(t, s.InsertItem(ctx, undated))
		got, err = s.GetItem(ctx, "p2")
		require.NoError(t, err)
		assert.True(t, got.PostedAt.IsZero())
		assert.Empty(t, got.PayloadPaths)

		_, err = s.GetItem(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrItemNotFound)
	})

	t.Run("runs", func(t *testing.T) {
		started := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
		run := &models.Run{
			ID:             uuid.New(),
			Target:         "alice",
			IdentityHandle: "acc2",
			Status:         models.RunRunning,
			StartedAt:      started,
		}
		require.NoError(t, s.StartRun(ctx, run))

		done := started.Add(30 * time.Second)
		run.Status = models.RunCompleted
		run.Considered, run.Inserted, run.Duplicates, run.Errors = 3, 2, 1, 0
		run.Message = "2 new posts"
		run.CompletedAt = &done
		require.NoError(t, s.FinishRun(ctx, run))

		runs, err := s.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		got := runs[0]
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, models.RunCompleted, got.Status)
		assert.Equal(t, 3, got.Considered)
		assert.Equal(t, 2, got.Inserted)
		assert.Equal(t, 1, got.Duplicates)
		assert.Equal(t, "2 new posts", got.Message)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, done, *got.CompletedAt, time.Second)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Identities)
		assert.Equal(t, 1, st.ActiveIdentities)
		assert.Equal(t, 2, st.Items)
		assert.Equal(t, 2, st.PendingItems)
	})
}
