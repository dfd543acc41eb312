// Package api exposes the HTTP surface: publish, query, live feed and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"msgstream/internal/constants"
	"msgstream/internal/feed"
	"msgstream/internal/idempotency"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/publishing"
	apperrors "msgstream/pkg/errors"
	"msgstream/pkg/health"
)

const replayedHeader = "Idempotent-Replayed"

type Publisher interface {
	Publish(ctx context.Context, req publishing.PublishRequest) (publishing.PublishResult, error)
}

type Idempotency interface {
	Execute(ctx context.Context, key string, fn func(ctx context.Context) idempotency.Response) (idempotency.Response, bool, error)
}

type Handler struct {
	publisher   Publisher
	store       messages.Store
	buffer      *feed.RecentBuffer
	idempotency Idempotency
	health      *health.CheckerRegistry
	logger      logger.Logger
}

// NewHandler builds the API. idem may be nil, which disables Idempotency-Key
// handling.
func NewHandler(
	publisher Publisher,
	store messages.Store,
	buffer *feed.RecentBuffer,
	idem Idempotency,
	registry *health.CheckerRegistry,
	log logger.Logger,
) *Handler {
	return &Handler{
		publisher:   publisher,
		store:       store,
		buffer:      buffer,
		idempotency: idem,
		health:      registry,
		logger:      log.Named("api"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Healthz)
	router.GET("/health", h.Health)
	router.POST("/publish", h.Publish)
	router.GET("/messages", h.RecentMessages)

	api := router.Group("/api")
	{
		api.GET("/messages", h.ListMessages)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// Healthz godoc
// @Summary      Liveness probe
// @Tags         health
// @Produce      plain
// @Success      200  {string}  string  "ok"
// @Router       /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Health godoc
// @Summary      Dependency health
// @Description  Reports PostgreSQL, Redis (when configured) and consumer state
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Health
// @Failure      503  {object}  health.Health
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Publish godoc
// @Summary      Publish a message
// @Description  Cleans the text, publishes it to the bus and records it. A repeated Idempotency-Key replays the first response.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header    string          false  "Client idempotency key"
// @Param        message          body      PublishRequest  true   "Message"
// @Success      200  {object}  PublishResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /publish [post]
func (h *Handler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, apperrors.Validationf("request body must be a JSON object").WithCause(err))
		return
	}

	key := c.GetHeader(constants.IdempotencyKeyHeader)
	if h.idempotency == nil || key == "" {
		h.writeResponse(c, h.publish(c.Request.Context(), req), false)
		return
	}

	resp, replayed, err := h.idempotency.Execute(c.Request.Context(), key, func(ctx context.Context) idempotency.Response {
		return h.publish(ctx, req)
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.writeResponse(c, resp, replayed)
}

func (h *Handler) publish(ctx context.Context, req PublishRequest) idempotency.Response {
	res, err := h.publisher.Publish(ctx, publishing.PublishRequest{
		Text:       req.text(),
		Attributes: req.attributes(),
	})
	if err != nil {
		status := apperrors.ToHTTPStatus(err)
		body := apperrors.ToErrorResponse(err)
		if apperrors.IsPartialFailure(err) {
			body["pubsubMessageId"] = res.BusMessageID
		}
		if status >= http.StatusInternalServerError {
			h.logger.ErrorwCtx(ctx, "Publish failed", "error", err)
		}
		return jsonResponse(status, body)
	}
	return jsonResponse(http.StatusOK, newPublishResponse(res))
}

func jsonResponse(status int, body interface{}) idempotency.Response {
	encoded, err := json.Marshal(body)
	if err != nil {
		encoded, _ = json.Marshal(apperrors.ToErrorResponse(apperrors.ErrInternal.WithCause(err)))
		status = http.StatusInternalServerError
	}
	return idempotency.Response{Status: status, Body: encoded}
}

func (h *Handler) writeResponse(c *gin.Context, resp idempotency.Response, replayed bool) {
	if replayed {
		c.Header(replayedHeader, "true")
	}
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}

// ListMessages godoc
// @Summary      Query stored messages
// @Description  Filtered, paginated view of the messages table, newest first. messageId is the client message id.
// @Tags         messages
// @Produce      json
// @Param        messageId     query     string  false  "Client message id (exact); overrides source"
// @Param        source        query     string  false  "Source (exact)"
// @Param        text          query     string  false  "Case-insensitive substring of the text"
// @Param        start         query     string  false  "First day, YYYY-MM-DD (UTC, inclusive)"
// @Param        end           query     string  false  "Last day, YYYY-MM-DD (UTC, inclusive)"
// @Param        is_duplicate  query     bool    false  "Duplicate flag"
// @Param        page          query     int     false  "Page, from 1"
// @Param        limit         query     int     false  "Page size, 1-100 (default 10)"
// @Success      200  {object}  messages.Page
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	params, err := parseListParams(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page, err := h.store.Query(c.Request.Context(), params.filter, params.page, params.limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []messages.Message{}
	}
	c.JSON(http.StatusOK, page)
}

// RecentMessages godoc
// @Summary      Live feed
// @Description  Most recently consumed messages, newest first. Per process and lost on restart.
// @Tags         messages
// @Produce      json
// @Success      200  {array}  feed.Entry
// @Router       /messages [get]
func (h *Handler) RecentMessages(c *gin.Context) {
	c.JSON(http.StatusOK, h.buffer.Snapshot())
}
