// Package publisher appends updates to an identity's log at the next free index.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

var (
	// ErrInvalidUpdate indicates an update without the content its kind requires.
	ErrInvalidUpdate = errors.New("publisher: invalid update")
	// ErrContended indicates that every attempt lost the race for the next index.
	ErrContended = errors.New("publisher: log index contended")
)

// Config tunes a Publisher.
type Config struct {
	FetchBatchSize int
	MaxAttempts    int
	Logger         *zap.Logger
}

// Publisher writes updates after the last entry of a log.
type Publisher struct {
	backend     storage.Backend
	fetcher     *snapshot.Fetcher
	maxAttempts int
	logger      *zap.Logger
}

// New constructs a Publisher over backend.
func New(backend storage.Backend, cfg Config) *Publisher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		backend:     backend,
		fetcher:     snapshot.NewFetcher(backend, cfg.FetchBatchSize),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Publish writes update to identity's log and returns the index it occupies.
// hint is a known lower bound of the log length, typically the synchronized
// cursor of the identity; 0 probes the whole log.
func (p *Publisher) Publish(ctx context.Context, identity feed.Identity, update feed.Update, hint int) (int, error) {
	if err := validate(update); err != nil {
		return 0, err
	}
	from, err := p.startingPoint(ctx, identity.Address, hint)
	if err != nil {
		return 0, err
	}
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		next, err := p.nextIndex(ctx, identity.Address, from)
		if err != nil {
			return 0, err
		}
		err = p.backend.AddUpdate(ctx, identity, next, update)
		if err == nil {
			p.logger.Debug("update published",
				zap.String("address", identity.Address),
				zap.Int("index", next),
				zap.String("kind", string(update.Kind())))
			return next, nil
		}
		if !errors.Is(err, storage.ErrIndexTaken) {
			return 0, err
		}
		p.logger.Debug("log index taken, probing again",
			zap.String("address", identity.Address),
			zap.Int("index", next),
			zap.Int("attempt", attempt))
		from = next
	}
	return 0, fmt.Errorf("%w: %s", ErrContended, identity.Address)
}

// Post submits a story and returns it as it will appear once synchronized.
func (p *Publisher) Post(ctx context.Context, identity feed.Identity, title, link string, hint int) (feed.Post, error) {
	return p.publishPost(ctx, identity, feed.PostUpdate{Title: title, Link: link}, hint)
}

// Text submits a story without a link.
func (p *Publisher) Text(ctx context.Context, identity feed.Identity, title, text string, hint int) (feed.Post, error) {
	return p.publishPost(ctx, identity, feed.PostUpdate{Title: title, Text: text}, hint)
}

// Comment replies to parent.
func (p *Publisher) Comment(ctx context.Context, identity feed.Identity, text, parent string, hint int) (feed.Post, error) {
	return p.publishPost(ctx, identity, feed.PostUpdate{Text: text, Parent: parent}, hint)
}

// Invite admits address into the invite graph.
func (p *Publisher) Invite(ctx context.Context, identity feed.Identity, address string, hint int) error {
	_, err := p.Publish(ctx, identity, feed.Invite{Address: address}, hint)
	return err
}

// Vote upvotes the post with postID.
func (p *Publisher) Vote(ctx context.Context, identity feed.Identity, postID string, hint int) error {
	_, err := p.Publish(ctx, identity, feed.VoteUpdate{Post: postID}, hint)
	return err
}

func (p *Publisher) publishPost(ctx context.Context, identity feed.Identity, update feed.PostUpdate, hint int) (feed.Post, error) {
	if _, err := p.Publish(ctx, identity, update, hint); err != nil {
		return feed.Post{}, err
	}
	return feed.NewPost(identity.Address, update), nil
}

// startingPoint trusts hint only when the entry just before it exists.
func (p *Publisher) startingPoint(ctx context.Context, address string, hint int) (int, error) {
	if hint <= 0 {
		return 0, nil
	}
	_, err := p.backend.FindUpdate(ctx, address, hint-1)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return hint, nil
}

func (p *Publisher) nextIndex(ctx context.Context, address string, from int) (int, error) {
	updates, err := p.fetcher.Fetch(ctx, address, from)
	if err != nil {
		return 0, err
	}
	return from + len(updates), nil
}

func validate(update feed.Update) error {
	switch typed := update.(type) {
	case feed.PostUpdate:
		if strings.TrimSpace(typed.Title) == "" && strings.TrimSpace(typed.Text) == "" {
			return fmt.Errorf("%w: post needs a title or text", ErrInvalidUpdate)
		}
		if !typed.IsTopLevel() && strings.TrimSpace(typed.Text) == "" {
			return fmt.Errorf("%w: comment needs text", ErrInvalidUpdate)
		}
	case feed.VoteUpdate:
		if strings.TrimSpace(typed.Post) == "" {
			return fmt.Errorf("%w: vote needs a post id", ErrInvalidUpdate)
		}
	case feed.Invite:
		if strings.TrimSpace(typed.Address) == "" {
			return fmt.Errorf("%w: invite needs an address", ErrInvalidUpdate)
		}
	default:
		return fmt.Errorf("%w: unsupported update", ErrInvalidUpdate)
	}
	return nil
}
