package snapshot

import (
	"context"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/ef-ds/deque"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of logs read in parallel.
const DefaultConcurrency = 8

// Options tunes a Synchronizer.
type Options struct {
	FetchBatchSize int
	Concurrency    int
	Logger         *zap.Logger
}

// Synchronizer advances a snapshot by reading every known log from its cursor
// and following invites to newly admitted identities.
type Synchronizer struct {
	fetcher     *Fetcher
	concurrency int
	logger      *zap.Logger
}

// NewSynchronizer constructs a Synchronizer over finder.
func NewSynchronizer(finder storage.Finder, options Options) *Synchronizer {
	concurrency := options.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		fetcher:     NewFetcher(finder, options.FetchBatchSize),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Sync returns the snapshot obtained by reading every log reachable from the
// users of current. The result depends only on current and the log contents,
// never on fetch timing or concurrency. current is not modified; on error the
// zero Snapshot is returned together with a *FetchError and current remains a
// valid starting point for a retry.
func (synchronizer *Synchronizer) Sync(ctx context.Context, current feed.Snapshot) (feed.Snapshot, error) {
	next := current.Clone()
	known := make(map[string]struct{}, len(next.Users))
	worklist := deque.New()
	for ordinal, user := range next.Users {
		known[user.Address] = struct{}{}
		worklist.PushBack(ordinal)
	}

	for worklist.Len() > 0 {
		batch := make([]int, 0, worklist.Len())
		for worklist.Len() > 0 {
			value, _ := worklist.PopFront()
			batch = append(batch, value.(int))
		}

		fetched, err := synchronizer.fetchAll(ctx, next.Users, batch)
		if err != nil {
			return feed.Snapshot{}, err
		}
		for position, ordinal := range batch {
			for _, invited := range synchronizer.commit(&next, ordinal, fetched[position], known) {
				worklist.PushBack(invited)
			}
		}
	}
	return next, nil
}

// fetchAll reads the logs of users[batch[i]] concurrently into slot i. When
// several logs fail, the error of the earliest batch position is returned.
func (synchronizer *Synchronizer) fetchAll(ctx context.Context, users []feed.User, batch []int) ([][]feed.Update, error) {
	fetched := make([][]feed.Update, len(batch))
	failures := make([]error, len(batch))
	var group errgroup.Group
	group.SetLimit(synchronizer.concurrency)
	for position, ordinal := range batch {
		user := users[ordinal]
		group.Go(func() error {
			fetched[position], failures[position] = synchronizer.fetcher.Fetch(ctx, user.Address, user.LastIndex)
			return nil
		})
	}
	_ = group.Wait()

	for _, err := range failures {
		if err != nil {
			return nil, err
		}
	}
	return fetched, nil
}

// commit applies the updates read from the log of next.Users[ordinal] and
// returns the ordinals of users admitted by its invites.
func (synchronizer *Synchronizer) commit(next *feed.Snapshot, ordinal int, updates []feed.Update, known map[string]struct{}) []int {
	owner := next.Users[ordinal].Address
	firstIndex := next.Users[ordinal].LastIndex
	next.Users[ordinal].LastIndex += len(updates)
	if len(updates) > 0 {
		synchronizer.logger.Debug("log advanced",
			zap.String("address", owner),
			zap.Int("from_index", firstIndex),
			zap.Int("updates", len(updates)))
	}

	var admitted []int
	for offset, update := range updates {
		switch typed := update.(type) {
		case feed.Invite:
			if _, exists := known[typed.Address]; exists {
				synchronizer.logger.Debug("duplicate invite ignored",
					zap.String("inviter", owner),
					zap.String("address", typed.Address))
				continue
			}
			known[typed.Address] = struct{}{}
			next.Users = append(next.Users, feed.User{Address: typed.Address, LastIndex: 0, InvitedBy: owner})
			admitted = append(admitted, len(next.Users)-1)
		case feed.PostUpdate:
			next.Posts = append(next.Posts, feed.NewPost(owner, typed))
		case feed.VoteUpdate:
			next.Votes = append(next.Votes, feed.Vote{Post: typed.Post, User: owner})
		case feed.Unrecognized:
			synchronizer.logger.Warn("malformed update skipped",
				zap.String("address", owner),
				zap.Int("index", firstIndex+offset),
				zap.String("kind", typed.RawKind))
		}
	}
	return admitted
}
