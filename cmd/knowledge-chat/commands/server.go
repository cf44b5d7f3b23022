package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/knowledge-chat/internal/app/server"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	addr := cmd.String("addr")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if addr == "" {
		addr = appCtx.Config.Server.Addr
	}

	srv := server.New(addr, appCtx.Container, appCtx.Logger())
	if err := srv.Run(ctx); err != nil {
		slog.Error("サーバの実行に失敗しました", "error", err)
		return fmt.Errorf("サーバの実行に失敗: %w", err)
	}
	return nil
}
