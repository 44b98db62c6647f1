// Package feed turns a paginated profile timeline into a bounded,
// lazily fetched sequence of post descriptors.
package feed

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned by Next once the cap is reached or the feed ends
var ErrExhausted = errors.New("feed exhausted")

// Descriptor is one remote post as seen in the timeline
type Descriptor struct {
	ExternalID string
	Caption    string
	Likes      int
	Comments   int
	PostedAt   time.Time
	IsVideo    bool
	MediaURLs  []string
}

// Page is one slice of a timeline
type Page struct {
	Items      []Descriptor
	NextCursor string
	HasNext    bool
}

// Profile is a resolved target account
type Profile struct {
	ID        string
	Handle    string
	FullName  string
	Posts     int
	Followers int
	Private   bool
	// FirstPage is set when profile resolution already returned the newest posts
	FirstPage *Page
}

// Source fetches profiles and timeline pages from the remote service
type Source interface {
	ResolveProfile(ctx context.Context, handle string) (*Profile, error)
	FetchPage(ctx context.Context, userID, cursor string) (*Page, error)
}

// Iterator yields at most max descriptors. Each call to Next consumes one
// slot, whether it yields a descriptor or a page error, so the cap bounds
// the number of items considered rather than the number stored.
type Iterator struct {
	source     Source
	profile    *Profile
	max        int
	considered int

	buf    []Descriptor
	cursor string
	done   bool
}

// New starts an iterator at the first page already carried by profile
func New(source Source, profile *Profile, max int) *Iterator {
	it := &Iterator{source: source, profile: profile, max: max}
	if p := profile.FirstPage; p != nil {
		it.absorb(p)
	}
	return it
}

// Next returns the next descriptor. A failed page fetch is returned as this
// slot's error and the same cursor is retried by the following call.
func (it *Iterator) Next(ctx context.Context) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.considered >= it.max {
		return nil, ErrExhausted
	}

	for len(it.buf) == 0 {
		if it.done {
			return nil, ErrExhausted
		}

		page, err := it.source.FetchPage(ctx, it.profile.ID, it.cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			it.considered++
			return nil, err
		}

		before := it.cursor
		it.absorb(page)
		// an empty page that does not advance the cursor would loop forever
		if len(page.Items) == 0 && it.cursor == before {
			it.done = true
		}
	}

	d := it.buf[0]
	it.buf = it.buf[1:]
	it.considered++
	return &d, nil
}

// Considered reports how many slots have been used
func (it *Iterator) Considered() int {
	return it.considered
}

func (it *Iterator) absorb(p *Page) {
	it.buf = append(it.buf, p.Items...)
	if p.NextCursor != "" {
		it.cursor = p.NextCursor
	}
	if !p.HasNext || p.NextCursor == "" {
		it.done = true
	}
}
