package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/knowledge-chat/internal/core/chat"
	"github.com/jinford/knowledge-chat/internal/core/retrieval"
)

const (
	// DefaultCacheTTL は回答キャッシュの有効期間
	DefaultCacheTTL = time.Hour

	// DefaultAnswerMaxTokens は回答生成に許容するトークン数
	DefaultAnswerMaxTokens = 500
)

// Service は1リクエスト分のクエリ処理を統括するオーケストレータ
type Service struct {
	store           chat.Store
	limiter         *chat.RateLimiter
	compactor       *chat.HistoryCompactor
	retriever       *retrieval.Service
	normalizer      Normalizer
	embedder        Embedder
	generator       Generator
	cache           Cache
	cacheTTL        time.Duration
	answerMaxTokens int
	logger          *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithCacheTTL はキャッシュ有効期間を上書きする
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cacheTTL = ttl
	}
}

// WithAnswerMaxTokens は回答生成のトークン上限を上書きする
func WithAnswerMaxTokens(maxTokens int) ServiceOption {
	return func(s *Service) {
		s.answerMaxTokens = maxTokens
	}
}

// WithQueryLogger はロガーを差し替える
func WithQueryLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(
	store chat.Store,
	limiter *chat.RateLimiter,
	compactor *chat.HistoryCompactor,
	retriever *retrieval.Service,
	normalizer Normalizer,
	embedder Embedder,
	generator Generator,
	cache Cache,
	opts ...ServiceOption,
) *Service {
	svc := &Service{
		store:           store,
		limiter:         limiter,
		compactor:       compactor,
		retriever:       retriever,
		normalizer:      normalizer,
		embedder:        embedder,
		generator:       generator,
		cache:           cache,
		cacheTTL:        DefaultCacheTTL,
		answerMaxTokens: DefaultAnswerMaxTokens,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Query はユーザーの質問を処理して回答を返す。
//
// セッション単位の排他区間は(レート判定+履歴読み込み)、要約の置き換え、
// 最終的なメッセージ永続化の3箇所に限定し、プロバイダ呼び出し
// （埋め込み・要約・回答生成）はロックを保持せずに行う。
func (s *Service) Query(ctx context.Context, params Params) (*Result, error) {
	// 1. バリデーション
	if strings.TrimSpace(params.Query) == "" {
		return nil, ErrEmptyQuery
	}

	// 2. セッション解決（指定があれば get-or-create、なければ新規作成）
	sess, err := s.resolveSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// 3-4. レート判定と履歴読み込みを1つの排他区間で行う
	var history []*chat.Message
	err = s.store.WithSessionLock(ctx, sess.ID, func(ctx context.Context, repo chat.Repository) error {
		if err := s.limiter.Check(ctx, repo, sess.ID); err != nil {
			return err
		}
		msgs, err := repo.ListMessages(ctx, sess.ID)
		if err != nil {
			return err
		}
		history = msgs
		return nil
	})
	if err != nil {
		if errors.Is(err, chat.ErrQuotaExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// 4. トークン予算を超えていれば履歴を要約に置き換える
	working, compacted, err := s.compactor.Compact(ctx, sess.ID, history)
	if err != nil {
		if errors.Is(err, chat.ErrSummarizationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if compacted {
		s.logger.Info("history compacted before answering", "sessionID", sess.ID)
	}

	// 5. クエリを正規化し、未永続のユーザーターンとして作業履歴に加える
	normalized := s.normalizer.Normalize(params.Query)
	turns := chat.HistoryTurns(working)
	turns = append(turns, chat.Turn{Role: chat.RoleUser, Content: normalized})

	// 6. キャッシュ照会。ヒット時は新しいターンを永続化せずに即応答する
	cacheKey := CacheKey(normalized)
	if cached, ok := s.cacheGet(ctx, cacheKey); ok {
		s.logger.Info("cache hit", "sessionID", sess.ID)
		return &Result{
			Answer:    cached.Answer,
			Context:   cached.Context,
			SessionID: sess.ID,
		}, nil
	}

	// 7. クエリの Embedding を生成する
	queryVector, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	// 8. ハイブリッド検索を実行し、コンテキストを system ターンとして加える
	docs, err := s.retriever.Retrieve(ctx, normalized, queryVector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	contextBlock := retrieval.BuildContextBlock(docs)
	turns = append(turns, chat.Turn{
		Role:    chat.RoleSystem,
		Content: "Relevant context:\n\n" + contextBlock,
	})

	// 9. 回答を生成する
	answer, err := s.generator.Complete(ctx, turns, s.answerMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	answer = strings.TrimSpace(answer)

	// 10. ユーザーターンとアシスタントターンをこの順で永続化する
	err = s.store.WithSessionLock(ctx, sess.ID, func(ctx context.Context, repo chat.Repository) error {
		_, err := repo.AppendMessages(ctx, sess.ID, []chat.MessageDraft{
			{Role: chat.RoleUser, Content: normalized},
			{Role: chat.RoleAssistant, Content: answer},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// 11. 回答をキャッシュする
	s.cacheSet(ctx, cacheKey, CachedAnswer{Answer: answer, Context: contextBlock})

	s.logger.Info("query answered",
		"sessionID", sess.ID,
		"answerLength", len(answer),
		"contextDocs", len(docs),
	)

	return &Result{
		Answer:    answer,
		Context:   contextBlock,
		SessionID: sess.ID,
	}, nil
}

func (s *Service) resolveSession(ctx context.Context, params Params) (*chat.Session, error) {
	if id, ok := params.SessionID.Get(); ok {
		return s.store.GetOrCreateSession(ctx, id)
	}
	return s.store.CreateSession(ctx)
}

// cacheGet はキャッシュを照会する。キャッシュ層の障害はミスとして扱い、
// リクエストを失敗させない。
func (s *Service) cacheGet(ctx context.Context, key string) (CachedAnswer, bool) {
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", "error", err)
		return CachedAnswer{}, false
	}
	if answer, ok := cached.Get(); ok {
		return answer, true
	}
	return CachedAnswer{}, false
}

// cacheSet は回答をキャッシュへ書き込む。失敗しても処理結果には影響しない。
func (s *Service) cacheSet(ctx context.Context, key string, answer CachedAnswer) {
	if err := s.cache.Set(ctx, key, answer, s.cacheTTL); err != nil {
		s.logger.Warn("cache store failed", "error", err)
	}
}
