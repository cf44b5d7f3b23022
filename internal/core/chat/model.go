package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role はメッセージの役割を表す
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session はチャットセッションを表す
type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message はセッションに属する1件のメッセージを表す
// セッション内のメッセージは created_at の昇順で全順序を持つ
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionID"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageDraft は永続化前のメッセージを表す
type MessageDraft struct {
	Role    string
	Content string
}

// Turn は生成プロバイダへ渡す1ターン分の発話を表す
type Turn struct {
	Role    string
	Content string
}

// HistoryTurns はメッセージ列を生成プロバイダ向けのターン列に変換する
func HistoryTurns(messages []*Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
