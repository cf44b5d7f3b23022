package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/knowledge-chat/internal/core/chat"
	"github.com/jinford/knowledge-chat/pkg/lock"
)

// ChatStore は chat.Store を実装する。排他区間はトランザクション +
// セッション単位のアドバイザリロック（pg_advisory_xact_lock）で直列化する。
type ChatStore struct {
	pool *pgxpool.Pool
	*ChatRepository
}

// NewChatStore は新しい ChatStore を作成する
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{
		pool:           pool,
		ChatRepository: NewChatRepository(pool),
	}
}

var _ chat.Store = (*ChatStore)(nil)

// WithSessionLock はセッション単位の排他区間を実行する。
// fn にはトランザクションに束縛されたリポジトリを渡し、fn がエラーを
// 返した場合はロールバックする。ロックはトランザクション終了時に
// 自動的に解放される。
func (s *ChatStore) WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, repo chat.Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := lock.Acquire(ctx, tx, lock.SessionLockID(sessionID)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := fn(ctx, NewChatRepository(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
