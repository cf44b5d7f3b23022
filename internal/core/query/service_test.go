package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/knowledge-chat/internal/core/chat"
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

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubGenerator struct {
	answer    string
	err       error
	calls     int
	lastTurns []chat.Turn
}

func (g *stubGenerator) Complete(ctx context.Context, turns []chat.Turn, maxTokens int) (string, error) {
	g.calls++
	g.lastTurns = turns
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]CachedAnswer
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]CachedAnswer)}
}

func (c *memCache) Get(ctx context.Context, key string) (mo.Option[CachedAnswer], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if answer, ok := c.entries[key]; ok {
		return mo.Some(answer), nil
	}
	return mo.None[CachedAnswer](), nil
}

func (c *memCache) Set(ctx context.Context, key string, answer CachedAnswer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = answer
	c.sets++
	return nil
}

type stubDocRepo struct {
	vectorHits  []*retrieval.VectorHit
	lexicalHits []*retrieval.LexicalHit
}

func (r *stubDocRepo) VectorSearch(ctx context.Context, queryVector []float32, limit int) ([]*retrieval.VectorHit, error) {
	return r.vectorHits, nil
}

func (r *stubDocRepo) LexicalSearch(ctx context.Context, query string, limit int) ([]*retrieval.LexicalHit, error) {
	return r.lexicalHits, nil
}

// wordCounter は空白区切りの単語数をトークン数とみなす
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

type fixture struct {
	store     *memStore
	embedder  *stubEmbedder
	generator *stubGenerator
	cache     *memCache
	docs      *stubDocRepo
	service   *Service
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:     newMemStore(),
		embedder:  &stubEmbedder{},
		generator: &stubGenerator{answer: "generated answer"},
		cache:     newMemCache(),
		docs:      &stubDocRepo{},
	}
	for _, opt := range opts {
		opt(f)
	}

	limiter := chat.NewRateLimiter()
	compactor := chat.NewHistoryCompactor(f.store, f.generator, wordCounter{},
		chat.WithTokenBudget(3000),
		chat.WithCompactorLogger(logger),
	)
	retriever := retrieval.NewService(f.docs, retrieval.WithRetrievalLogger(logger))

	f.service = NewService(
		f.store,
		limiter,
		compactor,
		retriever,
		stubNormalizer{},
		f.embedder,
		f.generator,
		f.cache,
		WithQueryLogger(logger),
	)
	return f
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Query(context.Background(), Params{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestQueryNewSessionWithEmptyDocumentStore(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Query(context.Background(), Params{Query: "What is a function?"})
	require.NoError(t, err)

	// ドキュメントストアが空でも埋め込みと生成は実行される
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.generator.calls)

	// コンテキストは固定のセンチネル文になる
	assert.Equal(t, retrieval.NoContextSentinel, result.Context)
	assert.NotEqual(t, uuid.Nil, result.SessionID)
	assert.Equal(t, "generated answer", result.Answer)

	// ユーザーターンとアシスタントターンがこの順で永続化される
	msgs, err := f.store.ListMessages(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "what is a function?", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "generated answer", msgs[1].Content)
}

func TestQueryContextTurnPassedToGenerator(t *testing.T) {
	docstring := "Adds two integers."
	filePath := "pkg/math/add.go"
	f := newFixture(t, func(f *fixture) {
		f.docs.vectorHits = []*retrieval.VectorHit{{
			Doc: retrieval.ContextDoc{
				ID:        uuid.New(),
				Title:     "add",
				Content:   "func Add(a, b int) int { return a + b }",
				Docstring: &docstring,
				FilePath:  &filePath,
			},
			Distance: 0.05,
		}}
	})

	result, err := f.service.Query(context.Background(), Params{Query: "how does add work"})
	require.NoError(t, err)

	require.NotEmpty(t, f.generator.lastTurns)
	last := f.generator.lastTurns[len(f.generator.lastTurns)-1]
	assert.Equal(t, chat.RoleSystem, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Relevant context:\n\n"))
	assert.Contains(t, last.Content, "File: pkg/math/add.go")
	assert.Contains(t, last.Content, "Docstring: Adds two integers.")
	assert.Contains(t, result.Context, "func Add(a, b int) int")

	// コンテキストターンの直前がユーザーターン
	user := f.generator.lastTurns[len(f.generator.lastTurns)-2]
	assert.Equal(t, chat.RoleUser, user.Role)
	assert.Equal(t, "how does add work", user.Content)
}

func TestQueryCacheHitSkipsProvidersAndPersistence(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Query(context.Background(), Params{Query: "repeated question"})
	require.NoError(t, err)

	msgsAfterFirst, err := f.store.ListMessages(context.Background(), first.SessionID)
	require.NoError(t, err)
	require.Len(t, msgsAfterFirst, 2)

	// 同一の正規化クエリを同じセッションで再実行する
	second, err := f.service.Query(context.Background(), Params{
		Query:     "  Repeated QUESTION ",
		SessionID: mo.Some(first.SessionID),
	})
	require.NoError(t, err)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Context, second.Context)
	assert.Equal(t, first.SessionID, second.SessionID)

	// 2回目はどちらのプロバイダも呼ばれない
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.generator.calls)

	// キャッシュヒット時は新しいメッセージを永続化しない
	msgsAfterSecond, err := f.store.ListMessages(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, msgsAfterSecond, 2)
}

func TestQueryCacheSharedAcrossSessions(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Query(context.Background(), Params{Query: "shared question"})
	require.NoError(t, err)

	second, err := f.service.Query(context.Background(), Params{Query: "shared question"})
	require.NoError(t, err)

	// キャッシュキーはセッションに依存しないため、別セッションでも共有される
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, f.generator.calls)
}

func TestQueryRejectsWhenQuotaExceeded(t *testing.T) {
	f := newFixture(t)

	sess, err := f.store.CreateSession(context.Background())
	require.NoError(t, err)

	drafts := make([]chat.MessageDraft, 0, 100)
	for range 100 {
		drafts = append(drafts, chat.MessageDraft{Role: chat.RoleUser, Content: "q"})
	}
	_, err = f.store.AppendMessages(context.Background(), sess.ID, drafts)
	require.NoError(t, err)

	_, err = f.service.Query(context.Background(), Params{
		Query:     "one more",
		SessionID: mo.Some(sess.ID),
	})
	assert.ErrorIs(t, err, chat.ErrQuotaExceeded)
	assert.Zero(t, f.embedder.calls)
	assert.Zero(t, f.generator.calls)
}

func TestQueryEmbeddingFailureAbortsWithoutMutation(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.embedder.err = errors.New("quota exhausted")
	})

	sess, err := f.store.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = f.service.Query(context.Background(), Params{
		Query:     "question",
		SessionID: mo.Some(sess.ID),
	})
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)

	msgs, err := f.store.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, f.cache.sets)
}

func TestQueryGenerationFailureAbortsWithoutMutation(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.generator.err = errors.New("model overloaded")
	})

	sess, err := f.store.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = f.service.Query(context.Background(), Params{
		Query:     "question",
		SessionID: mo.Some(sess.ID),
	})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)

	msgs, err := f.store.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, f.cache.sets)
}

func TestQueryCompactsOverBudgetHistoryBeforeAppending(t *testing.T) {
	f := newFixture(t)

	sess, err := f.store.CreateSession(context.Background())
	require.NoError(t, err)

	// 50件で合計3500トークン相当の履歴を作る（70単語 × 50件）
	longContent := strings.TrimSpace(strings.Repeat("word ", 70))
	drafts := make([]chat.MessageDraft, 0, 50)
	for i := range 50 {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		drafts = append(drafts, chat.MessageDraft{Role: role, Content: longContent})
	}
	_, err = f.store.AppendMessages(context.Background(), sess.ID, drafts)
	require.NoError(t, err)

	result, err := f.service.Query(context.Background(), Params{
		Query:     "next question",
		SessionID: mo.Some(sess.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, result.SessionID)

	// 50件すべてが1件の要約に置き換わり、その後に新しい2ターンが続く
	msgs, err := f.store.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, chat.RoleSystem, msgs[0].Role)
	assert.Equal(t, chat.RoleUser, msgs[1].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[2].Role)

	// 要約1回 + 回答1回
	assert.Equal(t, 2, f.generator.calls)
}

func TestCacheKeyIsStableAndQueryScoped(t *testing.T) {
	key1 := CacheKey("what is a function?")
	key2 := CacheKey("what is a function?")
	key3 := CacheKey("what is a method?")

	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
	assert.True(t, strings.HasPrefix(key1, "query_response_"))
}
