package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/knowledge-chat/internal/core/chat"
	"github.com/jinford/knowledge-chat/internal/core/query"
	"github.com/jinford/knowledge-chat/internal/core/retrieval"
)

// memStore は chat.Store のインメモリ実装
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*chat.Session
	messages map[uuid.UUID][]*chat.Message
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uuid.UUID]*chat.Session),
		messages: make(map[uuid.UUID][]*chat.Message),
	}
}

func (s *memStore) CreateSession(ctx context.Context) (*chat.Session, error) {
	sess := &chat.Session{ID: uuid.New(), CreatedAt: time.Now()}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) GetOrCreateSession(ctx context.Context, id uuid.UUID) (*chat.Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := &chat.Session{ID: id, CreatedAt: time.Now()}
	s.sessions[id] = sess
	return sess, nil
}

func (s *memStore) GetSession(ctx context.Context, id uuid.UUID) (mo.Option[*chat.Session], error) {
	if sess, ok := s.sessions[id]; ok {
		return mo.Some(sess), nil
	}
	return mo.None[*chat.Session](), nil
}

func (s *memStore) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*chat.Message, error) {
	msgs := s.messages[sessionID]
	out := make([]*chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) AppendMessages(ctx context.Context, sessionID uuid.UUID, drafts []chat.MessageDraft) ([]*chat.Message, error) {
	appended := make([]*chat.Message, 0, len(drafts))
	for _, draft := range drafts {
		msg := &chat.Message{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      draft.Role,
			Content:   draft.Content,
			CreatedAt: time.Now(),
		}
		s.messages[sessionID] = append(s.messages[sessionID], msg)
		appended = append(appended, msg)
	}
	return appended, nil
}

func (s *memStore) ReplaceAllMessages(ctx context.Context, sessionID uuid.UUID, draft chat.MessageDraft) (*chat.Message, error) {
	msg := &chat.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      draft.Role,
		Content:   draft.Content,
		CreatedAt: time.Now(),
	}
	s.messages[sessionID] = []*chat.Message{msg}
	return msg, nil
}

func (s *memStore) CountUserMessagesSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, msg := range s.messages[sessionID] {
		if msg.Role == chat.RoleUser && !msg.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, repo chat.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, s)
}

type stubNormalizer struct{}

func (stubNormalizer) Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubGenerator struct {
	answer string
}

func (g *stubGenerator) Complete(ctx context.Context, turns []chat.Turn, maxTokens int) (string, error) {
	return g.answer, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]query.CachedAnswer
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]query.CachedAnswer)}
}

func (c *memCache) Get(ctx context.Context, key string) (mo.Option[query.CachedAnswer], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if answer, ok := c.entries[key]; ok {
		return mo.Some(answer), nil
	}
	return mo.None[query.CachedAnswer](), nil
}

func (c *memCache) Set(ctx context.Context, key string, answer query.CachedAnswer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = answer
	return nil
}

type stubDocRepo struct{}

func (stubDocRepo) VectorSearch(ctx context.Context, queryVector []float32, limit int) ([]*retrieval.VectorHit, error) {
	return nil, nil
}

func (stubDocRepo) LexicalSearch(ctx context.Context, q string, limit int) ([]*retrieval.LexicalHit, error) {
	return nil, nil
}

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func newTestRouter(t *testing.T, store *memStore) *gin.Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	generator := &stubGenerator{answer: "test answer"}

	limiter := chat.NewRateLimiter()
	compactor := chat.NewHistoryCompactor(store, generator, wordCounter{}, chat.WithCompactorLogger(logger))
	retriever := retrieval.NewService(stubDocRepo{}, retrieval.WithRetrievalLogger(logger))

	svc := query.NewService(
		store,
		limiter,
		compactor,
		retriever,
		stubNormalizer{},
		stubEmbedder{},
		generator,
		newMemCache(),
		query.WithQueryLogger(logger),
	)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := newQueryHandler(svc, store, logger)
	r.POST("/api/query", h.Query)
	r.GET("/api/sessions/:id/messages", h.SessionMessages)
	return r
}

func postQuery(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQueryEndpointReturnsAnswerAndSession(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	w := postQuery(t, router, `{"query": "What is a goroutine?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// レスポンスのキー名はクライアント互換のため固定
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Contains(t, raw, "answer")
	assert.Contains(t, raw, "context")
	assert.Contains(t, raw, "session_id")

	var resp queryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test answer", resp.Answer)
	assert.Equal(t, retrieval.NoContextSentinel, resp.Context)
	assert.NotEqual(t, uuid.Nil, resp.SessionID)

	// 会話はセッションに永続化される
	msgs, err := store.ListMessages(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
}

func TestQueryEndpointContinuesExistingSession(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	first := postQuery(t, router, `{"query": "first question"}`)
	require.Equal(t, http.StatusOK, first.Code)

	var firstResp queryResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	second := postQuery(t, router, `{"query": "second question", "session_id": "`+firstResp.SessionID.String()+`"}`)
	require.Equal(t, http.StatusOK, second.Code)

	var secondResp queryResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.Equal(t, firstResp.SessionID, secondResp.SessionID)

	msgs, err := store.ListMessages(context.Background(), firstResp.SessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestQueryEndpointRejectsEmptyQuery(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	for _, body := range []string{`{"query": ""}`, `{"query": "   "}`, `{}`} {
		w := postQuery(t, router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Query is required")
	}
}

func TestQueryEndpointRejectsWhenQuotaExceeded(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	sess, err := store.CreateSession(context.Background())
	require.NoError(t, err)

	drafts := make([]chat.MessageDraft, 0, 100)
	for range 100 {
		drafts = append(drafts, chat.MessageDraft{Role: chat.RoleUser, Content: "q"})
	}
	_, err = store.AppendMessages(context.Background(), sess.ID, drafts)
	require.NoError(t, err)

	w := postQuery(t, router, `{"query": "one more", "session_id": "`+sess.ID.String()+`"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Query limit reached. Try again in an hour.")
}

func TestSessionMessagesEndpoint(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	sess, err := store.CreateSession(context.Background())
	require.NoError(t, err)
	_, err = store.AppendMessages(context.Background(), sess.ID, []chat.MessageDraft{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi there"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID.String()+"/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID uuid.UUID         `json:"session_id"`
		Messages  []messageResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sess.ID, resp.SessionID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hello", resp.Messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, resp.Messages[1].Role)
}

func TestSessionMessagesEndpointRejectsInvalidID(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/not-a-uuid/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionMessagesEndpointUnknownSession(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+uuid.NewString()+"/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
