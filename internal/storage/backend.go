// Package storage provides the log backends the synchronizer reads from and
// the write path appends to. Every backend addresses an entry by
// (identity address, sequence index).
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
)

var (
	// ErrNotFound reports that no entry is written at the requested index. It is
	// the normal end-of-log signal, not a failure.
	ErrNotFound = errors.New("storage: update not found")
	// ErrIndexTaken reports that a write targeted an index that already holds an entry.
	ErrIndexTaken = errors.New("storage: log index already written")
	// ErrInvalidIndex reports a negative sequence index.
	ErrInvalidIndex = errors.New("storage: invalid log index")
)

// Finder performs point lookups of log entries.
type Finder interface {
	FindUpdate(ctx context.Context, address string, index int) (feed.Update, error)
}

// Writer appends a log entry at a specific index.
type Writer interface {
	AddUpdate(ctx context.Context, identity feed.Identity, index int, update feed.Update) error
}

// Backend is the full storage contract consumed by the synchronizer and publisher.
type Backend interface {
	Finder
	Writer
}

func logTopic(address string, index int) string {
	return fmt.Sprintf("%s/updates/%d", address, index)
}

func validateIndex(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return nil
}
