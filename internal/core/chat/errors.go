package chat

import "errors"

var (
	// ErrQuotaExceeded は直近1時間のクエリ数が上限に達した場合のエラー
	ErrQuotaExceeded = errors.New("query limit reached")

	// ErrSummarizationFailed は履歴要約の生成に失敗した場合のエラー。
	// このエラーが返るとき、保存済み履歴は一切変更されていない。
	ErrSummarizationFailed = errors.New("failed to summarize chat history")
)
