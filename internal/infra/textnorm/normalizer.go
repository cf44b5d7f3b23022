package textnorm

import (
	"strings"
	"unicode"

	"github.com/jinford/knowledge-chat/internal/core/query"
)

// defaultStopwords は正規化時に除去する英語ストップワード
var defaultStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"is": {}, "are": {}, "was": {}, "were": {},
	"do": {}, "does": {}, "did": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"and": {}, "or": {},
	"please": {},
}

// Normalizer はクエリテキストの簡易正規化を提供する。
// 小文字化・空白の畳み込み・記号の除去・ストップワード除去を行う。
type Normalizer struct {
	stopwords map[string]struct{}
}

// New は新しい Normalizer を作成する
func New() *Normalizer {
	return &Normalizer{stopwords: defaultStopwords}
}

// Normalize はクエリを正規化して返す。
// すべてのトークンがストップワードとして落ちた場合は、空文字列を避ける
// ため小文字化したクエリをそのまま返す。
func (n *Normalizer) Normalize(rawQuery string) string {
	lowered := strings.ToLower(strings.TrimSpace(rawQuery))

	tokens := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})

	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := n.stopwords[token]; ok {
			continue
		}
		kept = append(kept, token)
	}

	if len(kept) == 0 {
		return lowered
	}
	return strings.Join(kept, " ")
}

// インターフェース実装の確認
var _ query.Normalizer = (*Normalizer)(nil)
