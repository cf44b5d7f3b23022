package lock

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// SessionLockID はチャットセッション用のロックIDを生成します
func SessionLockID(sessionID uuid.UUID) int64 {
	return GenerateLockID("chat_session", sessionID.String())
}

// Acquire はPostgreSQLアドバイザリロックを取得します。
// トランザクションスコープのロック（pg_advisory_xact_lock）を使用するため、
// トランザクション終了時に自動的に解放されます。
func Acquire(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
