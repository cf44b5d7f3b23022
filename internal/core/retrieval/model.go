package retrieval

import (
	"github.com/google/uuid"
)

// ContextDoc は回答コンテキストとして利用するドキュメント断片を表す
type ContextDoc struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Docstring *string   `json:"docstring,omitempty"`
	FilePath  *string   `json:"filePath,omitempty"`
}

// DocumentDraft は登録・更新するドキュメントの入力を表す
type DocumentDraft struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Docstring *string   `json:"docstring,omitempty"`
	FilePath  *string   `json:"filePath,omitempty"`
	ChunkID   string    `json:"chunkId"`
	Embedding []float32 `json:"-"`
}

// VectorHit はベクトル検索の結果1件を表す
type VectorHit struct {
	Doc      ContextDoc
	Distance float64
}

// LexicalHit はトライグラム類似度検索の結果1件を表す。
// 語彙検索はタイトル・本文・ファイルパスのみを返し、
// docstring などのメタデータは含まれないことがある。
type LexicalHit struct {
	Doc   ContextDoc
	Score float64
}
