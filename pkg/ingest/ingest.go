// Package ingest stores one feed descriptor: dedup check, payload download,
// then a single insert.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"igfeed/pkg/dedup"
	errs "igfeed/pkg/errors"
	"igfeed/pkg/feed"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/storage"
	"igfeed/pkg/telemetry"
)

// Outcome is the result of ingesting one descriptor
type Outcome int

const (
	Inserted Outcome = iota
	SkippedDuplicate
	SkippedError
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case SkippedDuplicate:
		return "skipped_duplicate"
	default:
		return "skipped_error"
	}
}

// Fetcher downloads a payload
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// ItemWriter persists ingested items. A uniqueness violation must be
// reported as an error wrapping errors.ErrDuplicate.
type ItemWriter interface {
	InsertItem(ctx context.Context, item *models.Item) error
}

// Pipeline turns descriptors into stored items with their payloads
type Pipeline struct {
	index      *dedup.Index
	fetcher    Fetcher
	files      *storage.Manager
	items      ItemWriter
	skipVideos bool
	now        func() time.Time
	log        logger.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithVideoPayloads downloads the media URLs of video posts too
func WithVideoPayloads() Option {
	return func(p *Pipeline) { p.skipVideos = false }
}

// WithClock overrides the ingestion timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline. Video payloads are skipped unless WithVideoPayloads is given.
func New(index *dedup.Index, fetcher Fetcher, files *storage.Manager, items ItemWriter, log logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:      index,
		fetcher:    fetcher,
		files:      files,
		items:      items,
		skipVideos: true,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes one descriptor for target. Errors are returned with
// SkippedError for the caller's failure policy; a uniqueness violation on
// insert is folded into SkippedDuplicate.
func (p *Pipeline) Ingest(ctx context.Context, d *feed.Descriptor, target string) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("igfeed.target", target),
		attribute.String("igfeed.shortcode", d.ExternalID),
	)

	outcome, err := p.ingest(ctx, d, target)
	span.SetAttributes(attribute.String("igfeed.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logger.LogIngest(p.log, target, d.ExternalID, outcome.String(), err)
	return outcome, err
}

func (p *Pipeline) ingest(ctx context.Context, d *feed.Descriptor, target string) (Outcome, error) {
	seen, err := p.index.Contains(ctx, d.ExternalID)
	if err != nil {
		return SkippedError, err
	}
	if seen {
		return SkippedDuplicate, nil
	}

	paths, err := p.savePayloads(ctx, d, target)
	if err != nil {
		return SkippedError, err
	}

	item := &models.Item{
		ExternalID:    d.ExternalID,
		SourceHandle:  target,
		Caption:       d.Caption,
		PayloadPaths:  paths,
		LikesCount:    d.Likes,
		CommentsCount: d.Comments,
		PostedAt:      d.PostedAt,
		ScrapedAt:     p.now().UTC(),
		Processed:     false,
	}

	if err := p.items.InsertItem(ctx, item); err != nil {
		if errs.IsDuplicate(err) {
			// payload names are deterministic, so the files now belong to the existing record
			p.index.Remember(d.ExternalID)
			return SkippedDuplicate, nil
		}
		p.removePayloads(paths)
		return SkippedError, fmt.Errorf("insert item %s: %w", d.ExternalID, err)
	}

	p.index.Remember(d.ExternalID)
	return Inserted, nil
}

func (p *Pipeline) savePayloads(ctx context.Context, d *feed.Descriptor, target string) ([]string, error) {
	paths := make([]string, 0, len(d.MediaURLs))
	if d.IsVideo && p.skipVideos {
		return paths, nil
	}

	for i, u := range d.MediaURLs {
		rel, err := p.savePayload(ctx, target, storage.FileName(d.ExternalID, i+1, storage.ExtFromURL(u)), u)
		if err != nil {
			p.removePayloads(paths)
			return nil, fmt.Errorf("payload %d of %s: %w", i+1, d.ExternalID, err)
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

func (p *Pipeline) savePayload(ctx context.Context, target, name, url string) (string, error) {
	body, err := p.fetcher.Download(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	return p.files.SavePayload(target, name, body)
}

func (p *Pipeline) removePayloads(paths []string) {
	for _, rel := range paths {
		if err := p.files.Remove(rel); err != nil {
			p.log.WithError(err).WithField("path", rel).Warn("Failed to remove orphaned payload")
		}
	}
}
