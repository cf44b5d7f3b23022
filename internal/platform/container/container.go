package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/knowledge-chat/internal/core/chat"
	"github.com/jinford/knowledge-chat/internal/core/query"
	"github.com/jinford/knowledge-chat/internal/core/retrieval"
	"github.com/jinford/knowledge-chat/internal/infra/openai"
	"github.com/jinford/knowledge-chat/internal/infra/postgres"
	"github.com/jinford/knowledge-chat/internal/infra/redis"
	"github.com/jinford/knowledge-chat/internal/infra/textnorm"
	"github.com/jinford/knowledge-chat/internal/infra/tokenizer"
	"github.com/jinford/knowledge-chat/internal/platform/config"
	"github.com/jinford/knowledge-chat/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	QueryService     *query.Service
	RetrievalService *retrieval.Service
	ChatStore        chat.Store
	DocumentRepo     *postgres.DocumentRepository
	Embedder         query.Embedder

	logger   *slog.Logger
	database *database.Database
	cache    interface{ Close() error }
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     query.Embedder
	generator    query.Generator
	cache        query.Cache
	tokenCounter chat.TokenCounter
	normalizer   query.Normalizer
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder query.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator は回答生成クライアントを差し替える
func WithContainerGenerator(generator query.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerCache はレスポンスキャッシュを差し替える
func WithContainerCache(cache query.Cache) ContainerOption {
	return func(opts *containerOptions) {
		opts.cache = cache
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter chat.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerNormalizer はクエリ正規化を差し替える
func WithContainerNormalizer(normalizer query.Normalizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.normalizer = normalizer
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	return NewContainerWithDB(cfg, db, opts...)
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
func NewContainerWithDB(cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
	}

	// Generator (OpenAI)
	generator := options.generator
	if generator == nil {
		client, err := openai.NewClient(cfg.OpenAI.APIKey, openai.WithChatModel(cfg.OpenAI.ChatModel))
		if err != nil {
			return nil, fmt.Errorf("OpenAIクライアント初期化に失敗しました: %w", err)
		}
		generator = client
	}

	// ResponseCache (Redis)
	cache := options.cache
	var cacheCloser interface{ Close() error }
	if cache == nil {
		redisClient, err := redis.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("Redis初期化に失敗しました: %w", err)
		}
		cache = redis.NewResponseCache(redisClient)
		cacheCloser = redisClient
	}

	// TokenCounter (tiktoken)
	tokenCounter := options.tokenCounter
	if tokenCounter == nil {
		counter, err := tokenizer.NewForModel(cfg.OpenAI.ChatModel)
		if err != nil {
			return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
		}
		tokenCounter = counter
	}

	// Normalizer
	normalizer := options.normalizer
	if normalizer == nil {
		normalizer = textnorm.New()
	}

	// Repository (PostgreSQL)
	chatStore := postgres.NewChatStore(db.Pool)
	documentRepo := postgres.NewDocumentRepository(db.Pool)

	// RetrievalService
	retrievalService := retrieval.NewService(
		documentRepo,
		retrieval.WithTopK(cfg.Query.TopK),
		retrieval.WithRetrievalLogger(options.logger),
	)

	// RateLimiter / HistoryCompactor
	limiter := chat.NewRateLimiter(
		chat.WithRateLimit(cfg.Query.MaxQueriesPerHour),
	)
	compactor := chat.NewHistoryCompactor(
		chatStore,
		generator,
		tokenCounter,
		chat.WithTokenBudget(cfg.Query.TokenBudget),
		chat.WithSummaryMaxTokens(cfg.Query.SummaryMaxTokens),
		chat.WithCompactorLogger(options.logger),
	)

	// QueryService
	queryService := query.NewService(
		chatStore,
		limiter,
		compactor,
		retrievalService,
		normalizer,
		embedder,
		generator,
		cache,
		query.WithCacheTTL(time.Duration(cfg.Query.CacheTTLSeconds)*time.Second),
		query.WithAnswerMaxTokens(cfg.Query.AnswerMaxTokens),
		query.WithQueryLogger(options.logger),
	)

	return &ServiceContainer{
		QueryService:     queryService,
		RetrievalService: retrievalService,
		ChatStore:        chatStore,
		DocumentRepo:     documentRepo,
		Embedder:         embedder,
		logger:           options.logger,
		database:         db,
		cache:            cacheCloser,
	}, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Pool は低レベル操作（スキーマ適用等）用に接続プールを公開する。
func (c *ServiceContainer) Pool() *database.Database {
	return c.database
}
