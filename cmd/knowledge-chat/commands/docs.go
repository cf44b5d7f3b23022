package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/knowledge-chat/internal/core/retrieval"
	"github.com/jinford/knowledge-chat/internal/infra/openai"
	"github.com/jinford/knowledge-chat/internal/infra/postgres"
	"github.com/jinford/knowledge-chat/internal/platform/config"
	"github.com/jinford/knowledge-chat/internal/platform/database"
	"github.com/jinford/knowledge-chat/internal/platform/logger"
)

// DocsImportAction はJSONファイルからドキュメントを一括登録するコマンドのアクション。
// 各ドキュメントの Embedding を生成してから保存する。
func DocsImportAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	filePath := cmd.String("file")
	skipEmbedding := cmd.Bool("skip-embedding")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("ドキュメントファイルの読み込みに失敗: %w", err)
	}

	var drafts []retrieval.DocumentDraft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return fmt.Errorf("ドキュメントファイルのパースに失敗: %w", err)
	}
	if len(drafts) == 0 {
		return fmt.Errorf("登録するドキュメントがありません: %s", filePath)
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	embedder := openai.NewEmbedder(
		cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)
	repo := postgres.NewDocumentRepository(db.Pool)

	slog.Info("ドキュメント登録を開始します", "file", filePath, "count", len(drafts))

	for i, draft := range drafts {
		if draft.ChunkID == "" {
			return fmt.Errorf("チャンクIDが未指定のドキュメントがあります (index=%d)", i)
		}

		if !skipEmbedding {
			embedding, err := embedder.Embed(ctx, draft.Content)
			if err != nil {
				slog.Error("Embedding生成に失敗しました", "chunkID", draft.ChunkID, "error", err)
				return fmt.Errorf("embedding生成に失敗 (chunk=%s): %w", draft.ChunkID, err)
			}
			draft.Embedding = embedding
		}

		if err := repo.UpsertDocument(ctx, draft); err != nil {
			slog.Error("ドキュメント登録に失敗しました", "chunkID", draft.ChunkID, "error", err)
			return fmt.Errorf("ドキュメント登録に失敗 (chunk=%s): %w", draft.ChunkID, err)
		}

		slog.Info("ドキュメントを登録しました", "chunkID", draft.ChunkID, "title", draft.Title)
	}

	slog.Info("ドキュメント登録が完了しました", "count", len(drafts))
	return nil
}
