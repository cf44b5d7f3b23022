package query

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/knowledge-chat/internal/core/chat"
)

// Params は1回のクエリ処理の入力を表す
type Params struct {
	Query     string                // ユーザーの質問文
	SessionID mo.Option[uuid.UUID]  // 未指定なら新規セッションを作成する
}

// Result はクエリ処理の成功結果を表す
type Result struct {
	Answer    string    `json:"answer"`
	Context   string    `json:"context"`
	SessionID uuid.UUID `json:"sessionID"`
}

// Normalizer はクエリの正規化を行う（副作用のない純粋関数として扱う）
type Normalizer interface {
	Normalize(rawQuery string) string
}

// Embedder はテキストの Embedding 生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator は会話履歴からの回答生成インターフェース
type Generator interface {
	Complete(ctx context.Context, turns []chat.Turn, maxTokens int) (string, error)
}
