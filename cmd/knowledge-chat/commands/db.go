package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/knowledge-chat/internal/infra/postgres"
	"github.com/jinford/knowledge-chat/internal/platform/config"
	"github.com/jinford/knowledge-chat/internal/platform/database"
	"github.com/jinford/knowledge-chat/internal/platform/logger"
)

// DBInitAction はデータベーススキーマを適用するコマンドのアクション。
// DB以外の外部サービスには接続しない。
func DBInitAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

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

	slog.Info("スキーマ適用を開始します")

	if err := postgres.ApplySchema(ctx, db.Pool); err != nil {
		slog.Error("スキーマ適用に失敗しました", "error", err)
		return fmt.Errorf("スキーマ適用に失敗: %w", err)
	}

	slog.Info("スキーマ適用が完了しました")
	return nil
}
