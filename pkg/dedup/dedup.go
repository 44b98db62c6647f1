// Package dedup answers whether a post has already been ingested.
package dedup

import (
	"context"
	"fmt"
	"sync"
)

// Source is the persisted set of ingested external ids
type Source interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
}

// Index checks the store and remembers ids already seen during this run
type Index struct {
	source Source
	mu     sync.RWMutex
	seen   map[string]struct{}
}

func New(source Source) *Index {
	return &Index{source: source, seen: make(map[string]struct{})}
}

// Contains reports whether externalID was ingested by this or an earlier run
func (ix *Index) Contains(ctx context.Context, externalID string) (bool, error) {
	ix.mu.RLock()
	_, ok := ix.seen[externalID]
	ix.mu.RUnlock()
	if ok {
		return true, nil
	}

	exists, err := ix.source.ExistsByExternalID(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", externalID, err)
	}
	if exists {
		ix.Remember(externalID)
	}
	return exists, nil
}

// Remember marks externalID as ingested
func (ix *Index) Remember(externalID string) {
	ix.mu.Lock()
	ix.seen[externalID] = struct{}{}
	ix.mu.Unlock()
}
