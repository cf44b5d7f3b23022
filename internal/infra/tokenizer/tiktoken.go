package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/knowledge-chat/internal/core/chat"
)

// DefaultEncoding は対象モデルが未知の場合に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TiktokenCounter は tiktoken によるトークン数計測を提供する
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewForModel は生成モデルに対応するエンコーディングで TiktokenCounter を
// 作成する。モデルが未知の場合は cl100k_base にフォールバックする。
func NewForModel(model string) (*TiktokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
		}
	}

	return &TiktokenCounter{encoding: encoding}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (c *TiktokenCounter) CountTokens(text string) int {
	if c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// インターフェース実装の確認
var _ chat.TokenCounter = (*TiktokenCounter)(nil)
