package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultTokenBudget は履歴に許容する合計トークン数
	DefaultTokenBudget = 3000

	// DefaultSummaryMaxTokens は要約生成に許容するトークン数
	DefaultSummaryMaxTokens = 300

	// maxCompactAttempts は要約の置き換えが競合した場合の再試行上限
	maxCompactAttempts = 2
)

// TokenCounter はテキストのトークン数を計測する
type TokenCounter interface {
	CountTokens(text string) int
}

// Generator は要約文の生成を行う
type Generator interface {
	Complete(ctx context.Context, turns []Turn, maxTokens int) (string, error)
}

// HistoryCompactor はトークン予算を超えた履歴を1件の要約メッセージに
// 圧縮する。要約の生成に成功した場合のみ保存済み履歴を置き換える
// （all-or-nothing）。
type HistoryCompactor struct {
	store            Store
	generator        Generator
	counter          TokenCounter
	budget           int
	summaryMaxTokens int
	logger           *slog.Logger
}

// CompactorOption は HistoryCompactor のオプション設定
type CompactorOption func(*HistoryCompactor)

// WithTokenBudget はトークン予算を上書きする
func WithTokenBudget(budget int) CompactorOption {
	return func(c *HistoryCompactor) {
		c.budget = budget
	}
}

// WithSummaryMaxTokens は要約生成のトークン上限を上書きする
func WithSummaryMaxTokens(maxTokens int) CompactorOption {
	return func(c *HistoryCompactor) {
		c.summaryMaxTokens = maxTokens
	}
}

// WithCompactorLogger はロガーを差し替える
func WithCompactorLogger(logger *slog.Logger) CompactorOption {
	return func(c *HistoryCompactor) {
		c.logger = logger
	}
}

// NewHistoryCompactor は新しい HistoryCompactor を作成する
func NewHistoryCompactor(store Store, generator Generator, counter TokenCounter, opts ...CompactorOption) *HistoryCompactor {
	compactor := &HistoryCompactor{
		store:            store,
		generator:        generator,
		counter:          counter,
		budget:           DefaultTokenBudget,
		summaryMaxTokens: DefaultSummaryMaxTokens,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(compactor)
	}
	return compactor
}

// Compact は履歴の合計トークン数を計測し、予算内であればそのまま返す。
// 予算を超えている場合は要約を生成し、保存済みメッセージを1件の
// system メッセージに原子的に置き換えた上で、それを作業履歴として返す。
//
// 要約の生成はロック外で行うため、置き換え時には履歴が読み取り時点から
// 変化していないことを排他区間内で確認する。別リクエストが先に置き換えて
// いた場合は自身の要約を破棄し、最新の履歴で再判定する。
func (c *HistoryCompactor) Compact(ctx context.Context, sessionID uuid.UUID, history []*Message) ([]*Message, bool, error) {
	if c.historyTokens(history) <= c.budget {
		return history, false, nil
	}

	for attempt := 0; attempt < maxCompactAttempts; attempt++ {
		summary, err := c.summarize(ctx, history)
		if err != nil {
			// 保存済み履歴は未変更のまま中断する
			return nil, false, fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
		}

		var (
			replaced *Message
			fresh    []*Message
		)
		err = c.store.WithSessionLock(ctx, sessionID, func(ctx context.Context, repo Repository) error {
			current, err := repo.ListMessages(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to reload history: %w", err)
			}
			if !sameHistory(current, history) {
				fresh = current
				return nil
			}
			msg, err := repo.ReplaceAllMessages(ctx, sessionID, MessageDraft{
				Role:    RoleSystem,
				Content: summary,
			})
			if err != nil {
				return fmt.Errorf("failed to replace history: %w", err)
			}
			replaced = msg
			return nil
		})
		if err != nil {
			return nil, false, err
		}

		if replaced != nil {
			c.logger.Info("chat history compacted",
				"sessionID", sessionID,
				"messages", len(history),
				"summaryLength", len(summary),
			)
			return []*Message{replaced}, true, nil
		}

		// 競合相手が先に履歴を書き換えた。最新の履歴で再判定する。
		c.logger.Info("history changed during summarization, discarding summary",
			"sessionID", sessionID,
		)
		history = fresh
		if c.historyTokens(history) <= c.budget {
			return history, false, nil
		}
	}

	// 競合が続く場合はそのままの履歴で処理を続行する
	return history, false, nil
}

// historyTokens は履歴の合計トークン数を返す
func (c *HistoryCompactor) historyTokens(history []*Message) int {
	total := 0
	for _, msg := range history {
		total += c.counter.CountTokens(msg.Content)
	}
	return total
}

// summarize は履歴全体を埋め込んだ要約指示で生成プロバイダを1回呼び出す
func (c *HistoryCompactor) summarize(ctx context.Context, history []*Message) (string, error) {
	turns := []Turn{{
		Role:    RoleSystem,
		Content: buildSummaryPrompt(history),
	}}

	summary, err := c.generator.Complete(ctx, turns, c.summaryMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// buildSummaryPrompt は履歴全体を埋め込んだ要約指示を構築する
func buildSummaryPrompt(history []*Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize the chat while retaining key details:\n\n")
	for _, msg := range history {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// sameHistory は2つの履歴が同一のメッセージ列かどうかを判定する
func sameHistory(a, b []*Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
