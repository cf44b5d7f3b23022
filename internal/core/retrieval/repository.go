package retrieval

import "context"

// Repository はドキュメントストアへの検索アクセスを提供する
type Repository interface {
	// VectorSearch はクエリベクトルとの距離の昇順で上位 limit 件を返す
	VectorSearch(ctx context.Context, queryVector []float32, limit int) ([]*VectorHit, error)

	// LexicalSearch はタイトルと docstring に対するトライグラム類似度の
	// 降順で上位 limit 件を返す（類似度が閾値以下のものは含まれない）
	LexicalSearch(ctx context.Context, query string, limit int) ([]*LexicalHit, error)
}
