// Package indexer owns the node's single logical snapshot. It serializes
// synchronization rounds, persists their results and publishes the indexed
// view to readers.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"go.uber.org/zap"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingBackend    = errors.New("storage backend is required")
	errMissingRoot       = errors.New("root address is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "indexer.service.new"
	opRestore    = "indexer.restore"
	opSyncRound  = "indexer.sync_round"
)

const defaultRetain = 10

// ServiceError carries a stable error code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// RoundObserver receives round telemetry.
type RoundObserver interface {
	ObserveRound(outcome string, elapsed time.Duration)
	SetSnapshotSize(users, posts, votes int)
}

// RoundResult summarizes one successful synchronization round.
type RoundResult struct {
	RoundID  string        `json:"round_id"`
	Users    int           `json:"users"`
	Posts    int           `json:"posts"`
	Votes    int           `json:"votes"`
	NewUsers int           `json:"new_users"`
	NewPosts int           `json:"new_posts"`
	NewVotes int           `json:"new_votes"`
	Duration time.Duration `json:"duration_ns"`
}

// Advanced reports whether the round discovered anything.
func (result RoundResult) Advanced() bool {
	return result.NewUsers > 0 || result.NewPosts > 0 || result.NewVotes > 0
}

// ServiceConfig describes the dependencies of the indexer service.
type ServiceConfig struct {
	Backend     storage.Finder
	Store       *SnapshotStore
	RootAddress string
	Sync        snapshot.Options
	Retain      int
	Observer    RoundObserver
	OnRound     func(RoundResult)
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service runs synchronization rounds against one logical snapshot.
type Service struct {
	synchronizer *snapshot.Synchronizer
	store        *SnapshotStore
	rootAddress  string
	retain       int
	observer     RoundObserver
	onRound      func(RoundResult)
	idProvider   IDProvider
	clock        func() time.Time
	logger       *zap.Logger

	roundMu sync.Mutex
	viewMu  sync.RWMutex
	current snapshot.IndexedSnapshot
}

// NewService constructs the indexer. The service starts from a root snapshot
// until Restore loads a persisted one.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, newServiceError(opServiceNew, "missing_backend", errMissingBackend)
	}
	if cfg.RootAddress == "" {
		return nil, newServiceError(opServiceNew, "missing_root", errMissingRoot)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	syncOptions := cfg.Sync
	if syncOptions.Logger == nil {
		syncOptions.Logger = logger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	retain := cfg.Retain
	if retain < 1 {
		retain = defaultRetain
	}
	return &Service{
		synchronizer: snapshot.NewSynchronizer(cfg.Backend, syncOptions),
		store:        cfg.Store,
		rootAddress:  cfg.RootAddress,
		retain:       retain,
		observer:     cfg.Observer,
		onRound:      cfg.OnRound,
		idProvider:   idProvider,
		clock:        clock,
		logger:       logger,
		current:      snapshot.Index(feed.NewRootSnapshot(cfg.RootAddress)),
	}, nil
}

// Restore replaces the current snapshot with the latest persisted round.
// Without a store, or when nothing was persisted yet, the root snapshot stays.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	restored, ok, err := s.store.Latest(ctx)
	if err != nil {
		s.logError(opRestore, "load_failed", err)
		return newServiceError(opRestore, "load_failed", err)
	}
	if !ok {
		return nil
	}
	if len(restored.Users) == 0 || restored.Users[0].Address != s.rootAddress {
		s.logger.Warn("persisted snapshot belongs to another root, starting over",
			zap.String("root_address", s.rootAddress))
		return nil
	}
	s.publish(restored)
	s.logger.Info("snapshot restored",
		zap.Int("users", len(restored.Users)),
		zap.Int("posts", len(restored.Posts)),
		zap.Int("votes", len(restored.Votes)))
	return nil
}

// Current returns the indexed view of the latest snapshot. The returned value
// is shared and must be treated as read-only.
func (s *Service) Current() snapshot.IndexedSnapshot {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.current
}

// SyncOnce runs one synchronization round. On failure the previous snapshot
// stays current.
func (s *Service) SyncOnce(ctx context.Context) (RoundResult, error) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	roundID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSyncRound, "round_id_failed", err)
		return RoundResult{}, newServiceError(opSyncRound, "round_id_failed", err)
	}
	started := s.clock()
	previous := s.Current().Snapshot

	next, err := s.synchronizer.Sync(ctx, previous)
	elapsed := s.clock().Sub(started)
	if err != nil {
		s.observeRound(metrics.RoundFailed, elapsed)
		s.logError(opSyncRound, "sync_failed", err, zap.String("round_id", roundID))
		return RoundResult{}, newServiceError(opSyncRound, "sync_failed", err)
	}

	result := RoundResult{
		RoundID:  roundID,
		Users:    len(next.Users),
		Posts:    len(next.Posts),
		Votes:    len(next.Votes),
		NewUsers: len(next.Users) - len(previous.Users),
		NewPosts: len(next.Posts) - len(previous.Posts),
		NewVotes: len(next.Votes) - len(previous.Votes),
		Duration: elapsed,
	}

	if s.store != nil && (result.Advanced() || cursorsMoved(previous, next)) {
		if err := s.store.Save(ctx, roundID, next, s.retain); err != nil {
			s.observeRound(metrics.RoundFailed, elapsed)
			s.logError(opSyncRound, "persist_failed", err, zap.String("round_id", roundID))
			return RoundResult{}, newServiceError(opSyncRound, "persist_failed", err)
		}
	}

	s.publish(next)
	s.observeRound(metrics.RoundSucceeded, elapsed)
	s.logger.Info("sync round completed",
		zap.String("round_id", roundID),
		zap.Int("users", result.Users),
		zap.Int("posts", result.Posts),
		zap.Int("votes", result.Votes),
		zap.Int("new_users", result.NewUsers),
		zap.Int("new_posts", result.NewPosts),
		zap.Int("new_votes", result.NewVotes),
		zap.Duration("duration", elapsed))
	if s.onRound != nil {
		s.onRound(result)
	}
	return result, nil
}

// Run executes a round immediately and then every interval until ctx ends.
// Failed rounds are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.SyncOnce(ctx)
		}
	}
}

func (s *Service) publish(next feed.Snapshot) {
	indexed := snapshot.Index(next)
	s.viewMu.Lock()
	s.current = indexed
	s.viewMu.Unlock()
	if s.observer != nil {
		s.observer.SetSnapshotSize(len(next.Users), len(next.Posts), len(next.Votes))
	}
}

func (s *Service) observeRound(outcome string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveRound(outcome, elapsed)
	}
}

func cursorsMoved(previous, next feed.Snapshot) bool {
	if len(previous.Users) != len(next.Users) {
		return true
	}
	for i := range previous.Users {
		if previous.Users[i].LastIndex != next.Users[i].LastIndex {
			return true
		}
	}
	return false
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("indexer service error", attrs...)
}
