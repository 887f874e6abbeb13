package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultFrontPageSize = 30
	maxFrontPageSize     = 500
	heartbeatInterval    = 25 * time.Second
)

var (
	errMissingSnapshotSource = errors.New("snapshot source dependency required")
	errMissingPublisher      = errors.New("publisher dependency required")
	errMissingLogBackend     = errors.New("log backend dependency required")
	errMissingDispatcher     = errors.New("realtime dispatcher dependency required")
)

// SnapshotSource serves the current indexed snapshot and runs rounds on demand.
type SnapshotSource interface {
	Current() snapshot.IndexedSnapshot
	SyncOnce(ctx context.Context) (indexer.RoundResult, error)
}

// UpdatePublisher appends an update to an identity's log.
type UpdatePublisher interface {
	Publish(ctx context.Context, identity feed.Identity, update feed.Update, hint int) (int, error)
}

// NicknameDecorator fills display names on read responses.
type NicknameDecorator interface {
	Apply(ctx context.Context, users []feed.User) ([]feed.User, error)
}

type Dependencies struct {
	Snapshots     SnapshotSource
	Publisher     UpdatePublisher
	Logs          storage.Backend
	Nicknames     NicknameDecorator
	Dispatcher    *RealtimeDispatcher
	Metrics       http.Handler
	FrontPageSize int
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Snapshots == nil {
		return nil, errMissingSnapshotSource
	}
	if deps.Publisher == nil {
		return nil, errMissingPublisher
	}
	if deps.Logs == nil {
		return nil, errMissingLogBackend
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	frontPageSize := deps.FrontPageSize
	if frontPageSize < 1 {
		frontPageSize = defaultFrontPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		snapshots:         deps.Snapshots,
		publisher:         deps.Publisher,
		logs:              deps.Logs,
		nicknames:         deps.Nicknames,
		dispatcher:        deps.Dispatcher,
		frontPageSize:     frontPageSize,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api")
	api.GET("/front", handler.handleFrontPage)
	api.GET("/posts/:id", handler.handlePost)
	api.GET("/users/:address/next-index", handler.handleNextIndex)
	api.POST("/users/:address/updates", handler.handlePublish)
	api.GET("/snapshot", handler.handleSnapshot)
	api.POST("/sync", handler.handleSync)
	api.GET("/events", handler.handleEvents)

	logs := router.Group("/logs")
	logs.GET("/:address/:index", handler.handleGetLogEntry)
	logs.PUT("/:address/:index", handler.handlePutLogEntry)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

// AnnounceRound returns an indexer round listener that publishes to dispatcher.
func AnnounceRound(dispatcher *RealtimeDispatcher, clock func() time.Time) func(indexer.RoundResult) {
	if clock == nil {
		clock = time.Now
	}
	return func(result indexer.RoundResult) {
		if !result.Advanced() {
			return
		}
		dispatcher.Publish(RealtimeMessage{
			EventType: RealtimeEventSnapshotAdvanced,
			RoundID:   result.RoundID,
			Users:     result.Users,
			Posts:     result.Posts,
			Votes:     result.Votes,
			Timestamp: clock().UTC(),
		})
	}
}
