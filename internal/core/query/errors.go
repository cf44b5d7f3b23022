package query

import "errors"

var (
	// ErrEmptyQuery はクエリが空の場合のエラー（クライアント起因、再試行不可）
	ErrEmptyQuery = errors.New("query is required")

	// ErrEmbeddingUnavailable は埋め込み生成に失敗した場合のエラー
	ErrEmbeddingUnavailable = errors.New("embedding generation failed")

	// ErrGenerationUnavailable は回答生成に失敗した場合のエラー
	ErrGenerationUnavailable = errors.New("answer generation failed")

	// ErrStoreUnavailable は永続化層の失敗を包むエラー
	ErrStoreUnavailable = errors.New("store unavailable")
)
