package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultRetryBase  = 100 * time.Millisecond
	defaultMaxRetries = 3
)

// RetryingConfig tunes the backoff of a Retrying backend.
type RetryingConfig struct {
	Base       time.Duration
	MaxRetries uint64
	Logger     *zap.Logger
}

// Retrying retries transient failures of the wrapped backend with Fibonacci
// backoff. ErrNotFound, ErrIndexTaken, ErrInvalidIndex and context errors are
// returned immediately.
type Retrying struct {
	backend    Backend
	base       time.Duration
	maxRetries uint64
	logger     *zap.Logger
}

// NewRetrying wraps backend.
func NewRetrying(backend Backend, cfg RetryingConfig) *Retrying {
	base := cfg.Base
	if base <= 0 {
		base = defaultRetryBase
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{backend: backend, base: base, maxRetries: maxRetries, logger: logger}
}

func (r *Retrying) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	var update feed.Update
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		found, err := r.backend.FindUpdate(ctx, address, index)
		if err != nil {
			return r.classify("find_update", address, index, err)
		}
		update = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

func (r *Retrying) AddUpdate(ctx context.Context, identity feed.Identity, index int, update feed.Update) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		if err := r.backend.AddUpdate(ctx, identity, index, update); err != nil {
			return r.classify("add_update", identity.Address, index, err)
		}
		return nil
	})
}

func (r *Retrying) backoff() retry.Backoff {
	return retry.WithMaxRetries(r.maxRetries, retry.NewFibonacci(r.base))
}

func (r *Retrying) classify(operation, address string, index int, err error) error {
	if isPermanent(err) {
		return err
	}
	r.logger.Warn("storage operation failed, retrying",
		zap.String("operation", operation),
		zap.String("address", address),
		zap.Int("index", index),
		zap.Error(err))
	return retry.RetryableError(err)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIndexTaken) ||
		errors.Is(err, ErrInvalidIndex) ||
		errors.Is(err, feed.ErrUnencodableUpdate) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
