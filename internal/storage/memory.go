package storage

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
)

// Memory keeps encoded log entries in process memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory constructs an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// FindUpdate returns the decoded entry at index or ErrNotFound.
func (memory *Memory) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateIndex(index); err != nil {
		return nil, err
	}
	memory.mu.RLock()
	payload, ok := memory.entries[logTopic(address, index)]
	memory.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return feed.DecodeUpdate(payload), nil
}

// AddUpdate encodes and stores update, refusing to overwrite an occupied index.
func (memory *Memory) AddUpdate(ctx context.Context, identity feed.Identity, index int, update feed.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := feed.EncodeUpdate(update)
	if err != nil {
		return err
	}
	return memory.PutRaw(identity.Address, index, payload)
}

// PutRaw stores payload verbatim. It allows seeding entries that do not decode.
func (memory *Memory) PutRaw(address string, index int, payload []byte) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	topic := logTopic(address, index)
	memory.mu.Lock()
	defer memory.mu.Unlock()
	if _, exists := memory.entries[topic]; exists {
		return ErrIndexTaken
	}
	memory.entries[topic] = append([]byte(nil), payload...)
	return nil
}
