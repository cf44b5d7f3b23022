package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/mo"

	"github.com/jinford/knowledge-chat/internal/core/query"
)

// connectTimeout は接続確認のタイムアウト
const connectTimeout = 5 * time.Second

// ResponseCache は Redis を使った回答キャッシュの実装
type ResponseCache struct {
	client *goredis.Client
}

// NewResponseCache は既存のクライアントから ResponseCache を作成する
func NewResponseCache(client *goredis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// Connect は Redis に接続し、疎通確認済みのクライアントを返す
func Connect(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Get はキャッシュを照会する。キーが存在しない場合は None を返す
func (c *ResponseCache) Get(ctx context.Context, key string) (mo.Option[query.CachedAnswer], error) {
	data, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return mo.None[query.CachedAnswer](), nil
	}
	if err != nil {
		return mo.None[query.CachedAnswer](), fmt.Errorf("failed to get cache entry: %w", err)
	}

	var answer query.CachedAnswer
	if err := json.Unmarshal([]byte(data), &answer); err != nil {
		// 解釈できないエントリはミスとして扱う
		return mo.None[query.CachedAnswer](), nil
	}

	return mo.Some(answer), nil
}

// Set は回答を TTL 付きで書き込む
func (c *ResponseCache) Set(ctx context.Context, key string, answer query.CachedAnswer, ttl time.Duration) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// インターフェース実装の確認
var _ query.Cache = (*ResponseCache)(nil)
