package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRateLimit は1時間あたりのユーザークエリ数の上限
	DefaultRateLimit = 100

	// DefaultRateWindow はレート制限の集計ウィンドウ
	DefaultRateWindow = time.Hour
)

// RateLimiter はセッション単位のローリングウィンドウ型レート制限を提供する。
// カウントは保存済みメッセージから毎回算出するため、要約による履歴の
// 置き換え後はカウントもリセットされる（仕様上許容される副作用）。
type RateLimiter struct {
	limit  int
	window time.Duration
}

// RateLimiterOption は RateLimiter のオプション設定
type RateLimiterOption func(*RateLimiter)

// WithRateLimit は上限値を上書きする
func WithRateLimit(limit int) RateLimiterOption {
	return func(l *RateLimiter) {
		l.limit = limit
	}
}

// WithRateWindow は集計ウィンドウを上書きする
func WithRateWindow(window time.Duration) RateLimiterOption {
	return func(l *RateLimiter) {
		l.window = window
	}
}

// NewRateLimiter は新しい RateLimiter を作成する
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	limiter := &RateLimiter{
		limit:  DefaultRateLimit,
		window: DefaultRateWindow,
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// Check は直近ウィンドウ内の user メッセージ数を repo から算出し、
// 上限に達している場合は ErrQuotaExceeded を返す。
// カウント以外の副作用は持たない。新しいクエリの記録は、オーケストレータが
// 後段でユーザーメッセージを永続化することで自然に行われる。
func (l *RateLimiter) Check(ctx context.Context, repo Repository, sessionID uuid.UUID) error {
	since := time.Now().Add(-l.window)

	count, err := repo.CountUserMessagesSince(ctx, sessionID, since)
	if err != nil {
		return fmt.Errorf("failed to count user messages: %w", err)
	}

	if count >= l.limit {
		return fmt.Errorf("%w: %d queries in the last %s", ErrQuotaExceeded, count, l.window)
	}

	return nil
}
