package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfeed/pkg/dedup"
	errs "igfeed/pkg/errors"
	"igfeed/pkg/feed"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/storage"
)

type memItems struct {
	mu       sync.Mutex
	items    map[string]*models.Item
	inserts  int
	failWith error
}

func newMemItems(existing ...string) *memItems {
	m := &memItems{items: map[string]*models.Item{}}
	for _, id := range existing {
		m.items[id] = &models.Item{ExternalID: id}
	}
	return m
}

func (m *memItems) ExistsByExternalID(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

func (m *memItems) InsertItem(ctx context.Context, item *models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.items[item.ExternalID]; ok {
		return fmt.Errorf("insert %s: %w", item.ExternalID, errs.ErrDuplicate)
	}
	m.items[item.ExternalID] = item
	return nil
}

// hiddenItems hides existing rows from the dedup lookup to simulate a race
type hiddenItems struct{ *memItems }

func (h hiddenItems) ExistsByExternalID(ctx context.Context, id string) (bool, error) {
	return false, nil
}

type fakeFetcher struct {
	downloads []string
	fail      map[string]error
}

func (f *fakeFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	f.downloads = append(f.downloads, url)
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("bytes of " + url)), nil
}

var scrapedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T, src dedup.Source, writer ItemWriter, fetcher Fetcher, opts ...Option) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewManager(root)
	require.NoError(t, err)
	opts = append(opts, WithClock(func() time.Time { return scrapedAt }))
	return New(dedup.New(src), fetcher, files, writer, logger.NewNopLogger(), opts...), root
}

func descriptor(id string, urls ...string) *feed.Descriptor {
	return &feed.Descriptor{
		ExternalID: id,
		Caption:    "caption " + id,
		Likes:      10,
		Comments:   2,
		PostedAt:   time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC),
		MediaURLs:  urls,
	}
}

func TestIngestInsertsNewItem(t *testing.T) {
	items := newMemItems()
	fetcher := &fakeFetcher{}
	p, root := newPipeline(t, items, items, fetcher)

	out, err := p.Ingest(context.Background(), descriptor("p1", "https://cdn/x/a.jpg", "https://cdn/x/b.png"), "alice")

	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	stored := items.items["p1"]
	require.NotNil(t, stored)
	assert.Equal(t, []string{"alice/p1_1.jpg", "alice/p1_2.png"}, stored.PayloadPaths)
	assert.Equal(t, "alice", stored.SourceHandle)
	assert.Equal(t, "caption p1", stored.Caption)
	assert.Equal(t, 10, stored.LikesCount)
	assert.Equal(t, scrapedAt, stored.ScrapedAt)
	assert.False(t, stored.Processed)

	content, err := os.ReadFile(filepath.Join(root, "alice", "p1_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "bytes of https://cdn/x/a.jpg", string(content))
}

func TestIngestExistingItemHasNoSideEffects(t *testing.T) {
	items := newMemItems("p2")
	fetcher := &fakeFetcher{}
	p, root := newPipeline(t, items, items, fetcher)

	out, err := p.Ingest(context.Background(), descriptor("p2", "https://cdn/x/a.jpg"), "alice")

	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, out)
	assert.Empty(t, fetcher.downloads)
	assert.Zero(t, items.inserts)
	_, err = os.Stat(filepath.Join(root, "alice"))
	assert.True(t, os.IsNotExist(err), "no filesystem writes for a known item")
}

func TestIngestSameItemTwice(t *testing.T) {
	items := newMemItems()
	p, _ := newPipeline(t, items, items, &fakeFetcher{})
	d := descriptor("p1", "https://cdn/x/a.jpg")

	first, err := p.Ingest(context.Background(), d, "alice")
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), d, "alice")
	require.NoError(t, err)

	assert.Equal(t, Inserted, first)
	assert.Equal(t, SkippedDuplicate, second)
	assert.Equal(t, 1, items.inserts)
}

func TestIngestDuplicateOnInsertIsNotAnError(t *testing.T) {
	items := newMemItems("p1")
	p, root := newPipeline(t, hiddenItems{items}, items, &fakeFetcher{})

	out, err := p.Ingest(context.Background(), descriptor("p1", "https://cdn/x/a.jpg"), "alice")

	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, out)
	assert.FileExists(t, filepath.Join(root, "alice", "p1_1.jpg"))

	// the lost race is remembered for the rest of the run
	out, err = p.Ingest(context.Background(), descriptor("p1"), "alice")
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, out)
	assert.Equal(t, 1, items.inserts)
}

func TestIngestDownloadFailureRemovesPartialPayloads(t *testing.T) {
	items := newMemItems()
	gone := errs.New(errs.ErrorTypeNotFound, 404, "media gone")
	fetcher := &fakeFetcher{fail: map[string]error{"https://cdn/x/b.jpg": gone}}
	p, root := newPipeline(t, items, items, fetcher)

	out, err := p.Ingest(context.Background(), descriptor("p1", "https://cdn/x/a.jpg", "https://cdn/x/b.jpg"), "alice")

	assert.Equal(t, SkippedError, out)
	assert.ErrorIs(t, err, gone)
	assert.Zero(t, items.inserts)
	assert.NoFileExists(t, filepath.Join(root, "alice", "p1_1.jpg"))
}

func TestIngestInsertFailure(t *testing.T) {
	items := newMemItems()
	items.failWith = errors.New("connection lost")
	p, root := newPipeline(t, items, items, &fakeFetcher{})

	out, err := p.Ingest(context.Background(), descriptor("p1", "https://cdn/x/a.jpg"), "alice")

	assert.Equal(t, SkippedError, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert item p1")
	assert.NoFileExists(t, filepath.Join(root, "alice", "p1_1.jpg"))
}

func TestIngestVideoWithoutPayloads(t *testing.T) {
	items := newMemItems()
	fetcher := &fakeFetcher{}
	p, _ := newPipeline(t, items, items, fetcher)

	d := descriptor("v1", "https://cdn/x/v.mp4")
	d.IsVideo = true
	out, err := p.Ingest(context.Background(), d, "alice")

	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.Empty(t, fetcher.downloads)
	assert.Empty(t, items.items["v1"].PayloadPaths)
}

func TestIngestVideoPayloadsWhenEnabled(t *testing.T) {
	items := newMemItems()
	fetcher := &fakeFetcher{}
	p, _ := newPipeline(t, items, items, fetcher, WithVideoPayloads())

	d := descriptor("v1", "https://cdn/x/thumb.jpg")
	d.IsVideo = true
	_, err := p.Ingest(context.Background(), d, "alice")

	require.NoError(t, err)
	assert.Len(t, fetcher.downloads, 1)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "skipped_duplicate", SkippedDuplicate.String())
	assert.Equal(t, "skipped_error", SkippedError.String())
}
