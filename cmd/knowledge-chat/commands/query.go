package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/knowledge-chat/internal/core/query"
)

// QueryAction は単発の質問応答を実行するコマンドのアクション
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	sessionFlag := cmd.String("session")
	showContext := cmd.Bool("show-context")

	// 質問文の取得
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	sessionID := mo.None[uuid.UUID]()
	if sessionFlag != "" {
		id, err := uuid.Parse(sessionFlag)
		if err != nil {
			return fmt.Errorf("セッションIDの形式が不正です: %w", err)
		}
		sessionID = mo.Some(id)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("質問応答を開始", "question", question)

	result, err := appCtx.Container.QueryService.Query(ctx, query.Params{
		Query:     question,
		SessionID: sessionID,
	})
	if err != nil {
		slog.Error("質問応答に失敗しました", "error", err)
		return err
	}

	// 結果出力
	fmt.Println(result.Answer)

	if showContext {
		fmt.Println("\n--- 参照コンテキスト ---")
		fmt.Println(result.Context)
	}
	fmt.Printf("\nセッションID: %s\n", result.SessionID)

	return nil
}
