package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/knowledge-chat/cmd/knowledge-chat/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "knowledge-chat",
		Usage: "ナレッジベース検索付き会話型クエリサービス",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "addr",
								Usage: "リッスンアドレス（省略時は環境変数またはデフォルトの:8080）",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "単発の質問応答を実行",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "session",
						Usage: "継続するセッションID（省略時は新規セッション）",
					},
					&cli.BoolFlag{
						Name:  "show-context",
						Usage: "参照したコンテキストも出力",
					},
				},
				Action: commands.QueryAction,
			},
			{
				Name:  "session",
				Usage: "セッション管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "セッションの会話履歴を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "セッションID",
								Required: true,
							},
						},
						Action: commands.SessionShowAction,
					},
				},
			},
			{
				Name:  "docs",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "import",
						Usage: "JSONファイルからドキュメントを一括登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "ドキュメントJSONファイルパス",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "skip-embedding",
								Usage: "Embedding生成をスキップ（語彙検索のみで利用する場合）",
							},
						},
						Action: commands.DocsImportAction,
					},
				},
			},
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "スキーマを適用",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.DBInitAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
