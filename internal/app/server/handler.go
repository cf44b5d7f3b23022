package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/knowledge-chat/internal/core/chat"
	"github.com/jinford/knowledge-chat/internal/core/query"
)

// queryHandler はクエリAPIのHTTPハンドラ
type queryHandler struct {
	queries *query.Service
	store   chat.Store
	logger  *slog.Logger
}

func newQueryHandler(queries *query.Service, store chat.Store, logger *slog.Logger) *queryHandler {
	return &queryHandler{
		queries: queries,
		store:   store,
		logger:  logger,
	}
}

type queryRequest struct {
	Query     string     `json:"query"`
	SessionID *uuid.UUID `json:"session_id"`
}

type queryResponse struct {
	Answer    string    `json:"answer"`
	Context   string    `json:"context"`
	SessionID uuid.UUID `json:"session_id"`
}

type messageResponse struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Query は POST /api/query を処理する
func (h *queryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
		return
	}

	sessionID := mo.None[uuid.UUID]()
	if req.SessionID != nil {
		sessionID = mo.Some(*req.SessionID)
	}

	result, err := h.queries.Query(c.Request.Context(), query.Params{
		Query:     req.Query,
		SessionID: sessionID,
	})
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, queryResponse{
		Answer:    result.Answer,
		Context:   result.Context,
		SessionID: result.SessionID,
	})
}

// renderQueryError はドメインエラーをHTTPステータスと固定メッセージに変換する
func (h *queryHandler) renderQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
	case errors.Is(err, chat.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Query limit reached. Try again in an hour."})
	case errors.Is(err, chat.ErrSummarizationFailed):
		h.logger.Error("履歴要約に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize chat."})
	case errors.Is(err, query.ErrEmbeddingUnavailable):
		h.logger.Error("Embedding生成に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Embedding generation failed."})
	case errors.Is(err, query.ErrGenerationUnavailable):
		h.logger.Error("回答生成に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate response."})
	default:
		h.logger.Error("クエリ処理に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
	}
}

// SessionMessages は GET /api/sessions/:id/messages を処理する
func (h *queryHandler) SessionMessages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	ctx := c.Request.Context()
	sess, err := h.store.GetSession(ctx, id)
	if err != nil {
		h.logger.Error("セッション取得に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
		return
	}
	if sess.IsAbsent() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	messages, err := h.store.ListMessages(ctx, id)
	if err != nil {
		h.logger.Error("メッセージ取得に失敗", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
		return
	}

	resp := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		resp = append(resp, messageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": resp})
}
