// Package snapshot rebuilds the global feed state from per-identity logs and
// indexes it for the read side.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchBatchSize is the number of point lookups a Fetcher issues at once.
const DefaultFetchBatchSize = 3

// FetchError reports the backend failure that aborted reading a log.
type FetchError struct {
	Address string
	Index   int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("snapshot: fetch %s at index %d: %v", e.Address, e.Index, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher reads the contiguous tail of a log in fixed-size concurrent batches.
type Fetcher struct {
	finder    storage.Finder
	batchSize int
}

// NewFetcher constructs a Fetcher. A batch size below 1 selects DefaultFetchBatchSize.
func NewFetcher(finder storage.Finder, batchSize int) *Fetcher {
	if batchSize < 1 {
		batchSize = DefaultFetchBatchSize
	}
	return &Fetcher{finder: finder, batchSize: batchSize}
}

// BatchSize returns the number of lookups issued per batch.
func (fetcher *Fetcher) BatchSize() int {
	return fetcher.batchSize
}

type lookupResult struct {
	update feed.Update
	err    error
}

// Fetch returns every update of address's log from fromIndex up to the first
// unwritten index, in index order. The result is identical for every batch size.
func (fetcher *Fetcher) Fetch(ctx context.Context, address string, fromIndex int) ([]feed.Update, error) {
	var updates []feed.Update
	for next := fromIndex; ; next += fetcher.batchSize {
		batch, complete, err := fetcher.fetchBatch(ctx, address, next)
		updates = append(updates, batch...)
		if err != nil {
			return nil, err
		}
		if !complete {
			return updates, nil
		}
	}
}

// fetchBatch looks up [start, start+batchSize) concurrently. Every lookup runs
// to completion so one failing slot never masks the gap that precedes it.
func (fetcher *Fetcher) fetchBatch(ctx context.Context, address string, start int) ([]feed.Update, bool, error) {
	slots := make([]lookupResult, fetcher.batchSize)
	var group errgroup.Group
	for offset := range slots {
		group.Go(func() error {
			update, err := fetcher.finder.FindUpdate(ctx, address, start+offset)
			slots[offset] = lookupResult{update: update, err: err}
			return nil
		})
	}
	_ = group.Wait()

	updates := make([]feed.Update, 0, len(slots))
	for offset, slot := range slots {
		switch {
		case errors.Is(slot.err, storage.ErrNotFound):
			return updates, false, nil
		case slot.err != nil:
			return nil, false, &FetchError{Address: address, Index: start + offset, Err: slot.err}
		case slot.update == nil:
			return updates, false, nil
		}
		updates = append(updates, slot.update)
	}
	return updates, true, nil
}
