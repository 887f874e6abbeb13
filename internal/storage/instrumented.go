package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
)

// Lookup outcomes reported to a LookupObserver.
const (
	LookupFound  = "found"
	LookupAbsent = "absent"
	LookupFailed = "failed"
)

// LookupObserver receives the outcome and latency of every point lookup.
type LookupObserver interface {
	ObserveLookup(outcome string, elapsed time.Duration)
}

// Instrumented reports lookups of the wrapped backend to an observer.
type Instrumented struct {
	Backend
	observer LookupObserver
	now      func() time.Time
}

// NewInstrumented wraps backend. A nil observer disables reporting.
func NewInstrumented(backend Backend, observer LookupObserver) *Instrumented {
	return &Instrumented{Backend: backend, observer: observer, now: time.Now}
}

func (instrumented *Instrumented) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	started := instrumented.now()
	update, err := instrumented.Backend.FindUpdate(ctx, address, index)
	if instrumented.observer != nil {
		outcome := LookupFound
		switch {
		case errors.Is(err, ErrNotFound):
			outcome = LookupAbsent
		case err != nil:
			outcome = LookupFailed
		}
		instrumented.observer.ObserveLookup(outcome, instrumented.now().Sub(started))
	}
	return update, err
}
