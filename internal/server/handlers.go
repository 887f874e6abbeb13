package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/projection"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/publisher"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxUpdateBytes = 64 << 10

type httpHandler struct {
	snapshots         SnapshotSource
	publisher         UpdatePublisher
	logs              storage.Backend
	nicknames         NicknameDecorator
	dispatcher        *RealtimeDispatcher
	frontPageSize     int
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

type frontPageResponse struct {
	Posts []feed.CombinedPost `json:"posts"`
	Nicks map[string]string   `json:"nicks"`
}

type postResponse struct {
	Post  feed.CombinedPost `json:"post"`
	Nicks map[string]string `json:"nicks"`
}

type nextIndexResponse struct {
	Address   string `json:"address"`
	NextIndex int    `json:"next_index"`
}

type publishResponse struct {
	Address string `json:"address"`
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	PostID  string `json:"post_id,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleFrontPage(c *gin.Context) {
	size := h.frontPageSize
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxFrontPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page_size"})
			return
		}
		size = parsed
	}
	current := h.snapshots.Current()
	posts := projection.FrontPage(current, size)
	c.JSON(http.StatusOK, frontPageResponse{Posts: posts, Nicks: h.nicksFor(c, current, posts...)})
}

func (h *httpHandler) handlePost(c *gin.Context) {
	current := h.snapshots.Current()
	post, ok := projection.PostByID(current, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
		return
	}
	c.JSON(http.StatusOK, postResponse{Post: post, Nicks: h.nicksFor(c, current, post)})
}

func (h *httpHandler) handleNextIndex(c *gin.Context) {
	address, err := feed.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}
	c.JSON(http.StatusOK, nextIndexResponse{
		Address:   address,
		NextIndex: projection.NextLogIndex(h.snapshots.Current(), address),
	})
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	current := h.snapshots.Current()
	if h.nicknames != nil {
		users, err := h.nicknames.Apply(c.Request.Context(), current.Users)
		if err != nil {
			h.logger.Warn("failed to decorate users with nicknames", zap.Error(err))
		} else {
			current.Users = users
		}
	}
	c.JSON(http.StatusOK, current)
}

func (h *httpHandler) handleSync(c *gin.Context) {
	result, err := h.snapshots.SyncOnce(c.Request.Context())
	if err != nil {
		response := gin.H{"error": "sync_failed"}
		var serviceErr *indexer.ServiceError
		if errors.As(err, &serviceErr) {
			response["code"] = serviceErr.Code()
		}
		var fetchErr *snapshot.FetchError
		if errors.As(err, &fetchErr) {
			response["address"] = fetchErr.Address
			response["index"] = fetchErr.Index
		}
		c.JSON(http.StatusBadGateway, response)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handlePublish(c *gin.Context) {
	address, err := feed.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}
	update, ok := h.readUpdate(c)
	if !ok {
		return
	}

	hint := projection.NextLogIndex(h.snapshots.Current(), address)
	index, err := h.publisher.Publish(c.Request.Context(), feed.Identity{Address: address}, update, hint)
	switch {
	case errors.Is(err, publisher.ErrInvalidUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_update"})
		return
	case errors.Is(err, publisher.ErrContended):
		c.JSON(http.StatusConflict, gin.H{"error": "index_contended"})
		return
	case err != nil:
		h.logger.Error("failed to publish update", zap.String("address", address), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "publish_failed"})
		return
	}

	response := publishResponse{Address: address, Index: index, Kind: string(update.Kind())}
	if post, ok := update.(feed.PostUpdate); ok {
		response.PostID = feed.PostID(post)
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleGetLogEntry(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_index"})
		return
	}
	update, err := h.logs.FindUpdate(c.Request.Context(), c.Param("address"), index)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to read log entry", zap.String("address", c.Param("address")), zap.Int("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	payload, err := feed.EncodeUpdate(update)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *httpHandler) handlePutLogEntry(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_index"})
		return
	}
	update, ok := h.readUpdate(c)
	if !ok {
		return
	}
	err = h.logs.AddUpdate(c.Request.Context(), feed.Identity{Address: c.Param("address")}, index, update)
	switch {
	case errors.Is(err, storage.ErrIndexTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "index_taken"})
		return
	case err != nil:
		h.logger.Error("failed to write log entry", zap.String("address", c.Param("address")), zap.Int("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.Status(http.StatusCreated)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-stream:
			c.SSEvent(message.EventType, message)
			c.Writer.Flush()
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) readUpdate(c *gin.Context) (feed.Update, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUpdateBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	update := feed.DecodeUpdate(body)
	if _, unrecognized := update.(feed.Unrecognized); unrecognized {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_update"})
		return nil, false
	}
	return update, true
}

// nicksFor resolves display names of post and comment authors.
func (h *httpHandler) nicksFor(c *gin.Context, current snapshot.IndexedSnapshot, posts ...feed.CombinedPost) map[string]string {
	nicks := make(map[string]string)
	if h.nicknames == nil {
		return nicks
	}
	seen := make(map[string]struct{})
	authors := make([]feed.User, 0)
	collect := func(address string) {
		if _, ok := seen[address]; ok {
			return
		}
		seen[address] = struct{}{}
		if user, ok := current.User(address); ok {
			authors = append(authors, user)
		}
	}
	for _, post := range posts {
		collect(post.User)
		for _, comment := range post.Comments {
			collect(comment.User)
		}
	}
	decorated, err := h.nicknames.Apply(c.Request.Context(), authors)
	if err != nil {
		h.logger.Warn("failed to resolve nicknames", zap.Error(err))
		return nicks
	}
	for _, user := range decorated {
		if user.Nick != "" {
			nicks[user.Address] = user.Nick
		}
	}
	return nicks
}
