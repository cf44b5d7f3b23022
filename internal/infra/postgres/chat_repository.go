package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/knowledge-chat/internal/core/chat"
)

// DBTX は *pgxpool.Pool と pgx.Tx の両方が満たすクエリ実行インターフェース
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChatRepository は chat.Repository を実装する PostgreSQL リポジトリ
type ChatRepository struct {
	db DBTX
}

// NewChatRepository は新しい ChatRepository を作成する
func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

var _ chat.Repository = (*ChatRepository)(nil)

func (r *ChatRepository) CreateSession(ctx context.Context) (*chat.Session, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO chat_session DEFAULT VALUES RETURNING id, created_at`,
	)
	return scanSession(row)
}

func (r *ChatRepository) GetOrCreateSession(ctx context.Context, id uuid.UUID) (*chat.Session, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO chat_session (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, created_at`,
		UUIDToPgtype(id),
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create session: %w", err)
	}
	return sess, nil
}

func (r *ChatRepository) GetSession(ctx context.Context, id uuid.UUID) (mo.Option[*chat.Session], error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, created_at FROM chat_session WHERE id = $1`,
		UUIDToPgtype(id),
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*chat.Session](), nil
		}
		return mo.None[*chat.Session](), fmt.Errorf("failed to get session: %w", err)
	}
	return mo.Some(sess), nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*chat.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, chat_session_id, role, content, created_at
		 FROM message
		 WHERE chat_session_id = $1
		 ORDER BY created_at`,
		UUIDToPgtype(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*chat.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

func (r *ChatRepository) AppendMessages(ctx context.Context, sessionID uuid.UUID, drafts []chat.MessageDraft) ([]*chat.Message, error) {
	appended := make([]*chat.Message, 0, len(drafts))
	for _, draft := range drafts {
		row := r.db.QueryRow(ctx,
			`INSERT INTO message (chat_session_id, role, content)
			 VALUES ($1, $2, $3)
			 RETURNING id, chat_session_id, role, content, created_at`,
			UUIDToPgtype(sessionID), draft.Role, draft.Content,
		)
		msg, err := scanMessage(row)
		if err != nil {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
		appended = append(appended, msg)
	}
	return appended, nil
}

// ReplaceAllMessages は削除と挿入を単一文で実行するため、呼び出し単体でも
// 原子的に振る舞う
func (r *ChatRepository) ReplaceAllMessages(ctx context.Context, sessionID uuid.UUID, draft chat.MessageDraft) (*chat.Message, error) {
	row := r.db.QueryRow(ctx,
		`WITH deleted AS (
		     DELETE FROM message WHERE chat_session_id = $1
		 )
		 INSERT INTO message (chat_session_id, role, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, chat_session_id, role, content, created_at`,
		UUIDToPgtype(sessionID), draft.Role, draft.Content,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to replace messages: %w", err)
	}
	return msg, nil
}

func (r *ChatRepository) CountUserMessagesSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM message
		 WHERE chat_session_id = $1 AND role = 'user' AND created_at >= $2`,
		UUIDToPgtype(sessionID), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return int(count), nil
}

func scanSession(row pgx.Row) (*chat.Session, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &createdAt); err != nil {
		return nil, err
	}
	return &chat.Session{
		ID:        PgtypeToUUID(id),
		CreatedAt: PgtypeToTime(createdAt),
	}, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var (
		id        pgtype.UUID
		sessionID pgtype.UUID
		role      string
		content   string
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &sessionID, &role, &content, &createdAt); err != nil {
		return nil, err
	}
	return &chat.Message{
		ID:        PgtypeToUUID(id),
		SessionID: PgtypeToUUID(sessionID),
		Role:      role,
		Content:   content,
		CreatedAt: PgtypeToTime(createdAt),
	}, nil
}
