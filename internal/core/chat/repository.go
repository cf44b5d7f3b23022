package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はセッションとメッセージの永続化を提供する
type Repository interface {
	// CreateSession は新しいセッションを作成する（IDはストア側で採番）
	CreateSession(ctx context.Context) (*Session, error)

	// GetOrCreateSession は指定IDのセッションを取得し、存在しなければ作成する
	GetOrCreateSession(ctx context.Context, id uuid.UUID) (*Session, error)

	// GetSession は指定IDのセッションを取得する
	GetSession(ctx context.Context, id uuid.UUID) (mo.Option[*Session], error)

	// ListMessages はセッションの全メッセージを created_at 昇順で返す
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error)

	// AppendMessages はメッセージ列を与えられた順で末尾に追加する
	AppendMessages(ctx context.Context, sessionID uuid.UUID, drafts []MessageDraft) ([]*Message, error)

	// ReplaceAllMessages はセッションの全メッセージを1件のメッセージに
	// 原子的に置き換える
	ReplaceAllMessages(ctx context.Context, sessionID uuid.UUID, draft MessageDraft) (*Message, error)

	// CountUserMessagesSince は since 以降の user ロールのメッセージ数を返す
	CountUserMessagesSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error)
}

// Store は Repository にセッション単位の排他区間を加えたインターフェース。
// WithSessionLock に渡した関数内での読み書きは、同一セッションに対する
// 他の排他区間と直列化される。
type Store interface {
	Repository

	// WithSessionLock はセッション単位の排他区間を実行する。
	// fn がエラーを返した場合、区間内の書き込みはすべて破棄される。
	WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, repo Repository) error) error
}
