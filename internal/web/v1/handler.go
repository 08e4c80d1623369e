package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/feed-sync/internal/core/domain"
	logicv1 "github.com/duynhne/feed-sync/internal/logic/v1"
	"github.com/duynhne/feed-sync/middleware"
	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
)

// Handler groups HTTP handlers for the local feed API v1.
type Handler struct {
	home *logicv1.HomeService
}

// NewHandler creates a new Handler backed by the given HomeService.
func NewHandler(home *logicv1.HomeService) *Handler {
	return &Handler{home: home}
}

// RegisterRoutes registers all feed API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/feed", h.GetFeed)
	rg.POST("/feed/refresh", h.RefreshFeed)
	rg.POST("/posts", h.CreatePost)
	rg.POST("/auth/logout", h.Logout)
	rg.GET("/sync", h.GetSync)
}

// CreatePostRequest is the compose form body.
type CreatePostRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// FeedResponse is one tab of the home view.
type FeedResponse struct {
	Tab   logicv1.Tab   `json:"tab"`
	Posts []domain.Post `json:"posts"`
}

// SyncResponse reports the live connection.
type SyncResponse struct {
	State       string `json:"state"`
	OpenHandles int    `json:"open_handles"`
}

// startSpan opens the request span and carries it on c.Request.
func startSpan(c *gin.Context) trace.Span {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	c.Request = c.Request.WithContext(ctx)
	return span
}

// GetFeed returns the locally held posts of one tab.
// GET /api/v1/feed?tab=everything|following
func (h *Handler) GetFeed(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()

	tab, err := logicv1.ParseTab(c.Query("tab"))
	if err != nil {
		writeError(c, span, err, "Invalid tab")
		return
	}
	span.SetAttributes(attribute.String("feed.tab", string(tab)))

	if !h.home.Authenticated(ctx) {
		writeSessionExpired(c, span)
		return
	}

	c.JSON(http.StatusOK, FeedResponse{Tab: tab, Posts: h.home.Feed(tab)})
}

// RefreshFeed re-fetches one tab from the backend and returns it.
// POST /api/v1/feed/refresh?tab=everything|following
func (h *Handler) RefreshFeed(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()

	tab, err := logicv1.ParseTab(c.Query("tab"))
	if err != nil {
		writeError(c, span, err, "Invalid tab")
		return
	}
	span.SetAttributes(attribute.String("feed.tab", string(tab)))

	if err := h.home.Refresh(ctx, tab); err != nil {
		writeError(c, span, err, "Feed refresh failed")
		return
	}
	if !h.home.Authenticated(ctx) {
		writeSessionExpired(c, span)
		return
	}

	c.JSON(http.StatusOK, FeedResponse{Tab: tab, Posts: h.home.Feed(tab)})
}

// CreatePost submits the compose form. The feeds update when the backend
// pushes the new post.
// POST /api/v1/posts
func (h *Handler) CreatePost(c *gin.Context) {
	span := startSpan(c)
	defer span.End()
	ctx := c.Request.Context()
	logger := pkgzerolog.FromContext(ctx)

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Bool("request.valid", true))

	if err := h.home.SubmitPost(ctx, req.Title, req.Description); err != nil {
		writeError(c, span, err, "Post submission failed")
		return
	}
	if !h.home.Authenticated(ctx) {
		writeSessionExpired(c, span)
		return
	}

	logger.Info().Str("title", req.Title).Msg("Post submitted")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Logout releases the live connection and destroys the local session.
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	if err := h.home.Logout(c.Request.Context()); err != nil {
		writeError(c, span, err, "Logout failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSync reports the live connection state.
// GET /api/v1/sync
func (h *Handler) GetSync(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	state, handles := h.home.SyncState()
	c.JSON(http.StatusOK, SyncResponse{State: state.String(), OpenHandles: handles})
}

func writeSessionExpired(c *gin.Context, span trace.Span) {
	span.SetAttributes(attribute.Bool("session.valid", false))
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
}

func writeError(c *gin.Context, span trace.Span, err error, msg string) {
	span.RecordError(err)
	pkgzerolog.FromContext(c.Request.Context()).Error().Err(err).Msg(msg)

	var reqErr *domain.RequestError
	switch {
	case errors.Is(err, logicv1.ErrUnknownTab):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &reqErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Feed backend error", "upstream_status": reqErr.StatusCode})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
