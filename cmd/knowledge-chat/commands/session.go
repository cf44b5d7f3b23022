package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// SessionShowAction はセッションの会話履歴を表示するコマンドのアクション
func SessionShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("セッションIDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	store := appCtx.Container.ChatStore

	sess, err := store.GetSession(ctx, id)
	if err != nil {
		slog.Error("セッション取得に失敗しました", "error", err)
		return fmt.Errorf("セッション取得に失敗: %w", err)
	}
	if sess.IsAbsent() {
		return fmt.Errorf("セッションが見つかりません: %s", id)
	}

	messages, err := store.ListMessages(ctx, id)
	if err != nil {
		slog.Error("メッセージ取得に失敗しました", "error", err)
		return fmt.Errorf("メッセージ取得に失敗: %w", err)
	}

	for _, msg := range messages {
		fmt.Printf("[%s] %s\n%s\n\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Role, msg.Content)
	}
	fmt.Printf("合計 %d 件\n", len(messages))

	return nil
}
