package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/samber/mo"
)

// CachedAnswer はキャッシュ済みの回答とコンテキストを表す
type CachedAnswer struct {
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

// Cache は正規化済みクエリをキーとした回答キャッシュを提供する
type Cache interface {
	Get(ctx context.Context, key string) (mo.Option[CachedAnswer], error)
	Set(ctx context.Context, key string, answer CachedAnswer, ttl time.Duration) error
}

// CacheKey は正規化済みクエリテキストからキャッシュキーを導出する。
// キーはクエリテキストのみに依存する純粋関数であり、セッションIDや
// 検索結果には依存しない。このため異なるセッション間で同一の正規化
// クエリがキャッシュを共有する。
func CacheKey(normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return "query_response_" + hex.EncodeToString(sum[:])
}
