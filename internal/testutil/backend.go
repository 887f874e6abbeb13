// Package testutil provides storage fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
)

// ScriptedBackend is an in-memory backend with injectable lookup failures and
// random per-lookup latency.
type ScriptedBackend struct {
	*storage.Memory

	mu         sync.Mutex
	failures   map[string]error
	maxLatency time.Duration
	lookups    atomic.Int64
}

// NewScriptedBackend constructs an empty ScriptedBackend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{Memory: storage.NewMemory(), failures: make(map[string]error)}
}

// WithJitter makes every lookup sleep a random duration up to maxLatency.
func (backend *ScriptedBackend) WithJitter(maxLatency time.Duration) *ScriptedBackend {
	backend.mu.Lock()
	backend.maxLatency = maxLatency
	backend.mu.Unlock()
	return backend
}

// FailAt makes lookups of (address, index) return err until cleared with a nil err.
func (backend *ScriptedBackend) FailAt(address string, index int, err error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	key := fmt.Sprintf("%s/%d", address, index)
	if err == nil {
		delete(backend.failures, key)
		return
	}
	backend.failures[key] = err
}

// Lookups returns the number of FindUpdate calls served so far.
func (backend *ScriptedBackend) Lookups() int64 {
	return backend.lookups.Load()
}

// Append writes updates to the end of address's log starting at index from.
func (backend *ScriptedBackend) Append(address string, from int, updates ...feed.Update) error {
	identity := feed.Identity{Address: address}
	for offset, update := range updates {
		if err := backend.AddUpdate(context.Background(), identity, from+offset, update); err != nil {
			return err
		}
	}
	return nil
}

func (backend *ScriptedBackend) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	backend.lookups.Add(1)
	backend.mu.Lock()
	failure := backend.failures[fmt.Sprintf("%s/%d", address, index)]
	maxLatency := backend.maxLatency
	backend.mu.Unlock()

	if maxLatency > 0 {
		select {
		case <-time.After(rand.N(maxLatency)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	return backend.Memory.FindUpdate(ctx, address, index)
}
