package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultTopK はベクトル検索・語彙検索それぞれの取得上限
const DefaultTopK = 3

// Service はベクトル検索と語彙検索を統合したハイブリッド検索を提供する
type Service struct {
	repo   Repository
	topK   int
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithTopK は取得上限を上書きする
func WithTopK(topK int) ServiceOption {
	return func(s *Service) {
		s.topK = topK
	}
}

// WithRetrievalLogger はロガーを差し替える
func WithRetrievalLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(repo Repository, opts ...ServiceOption) *Service {
	svc := &Service{
		repo:   repo,
		topK:   DefaultTopK,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Retrieve はベクトル検索と語彙検索を並行実行し、ドキュメントIDで
// 重複排除した結果を返す。両方の結果に含まれるドキュメントは、より多くの
// フィールドを持つベクトル検索側のレコードを採用する。並び順はベクトル
// 検索結果が先、語彙検索のみのヒットが後で、マージ後の再ランキングは
// 行わない。
func (s *Service) Retrieve(ctx context.Context, query string, queryVector []float32) ([]*ContextDoc, error) {
	type vectorResult struct {
		hits []*VectorHit
		err  error
	}
	type lexicalResult struct {
		hits []*LexicalHit
		err  error
	}

	vectorCh := make(chan vectorResult, 1)
	lexicalCh := make(chan lexicalResult, 1)

	go func() {
		hits, err := s.repo.VectorSearch(ctx, queryVector, s.topK)
		vectorCh <- vectorResult{hits: hits, err: err}
	}()

	go func() {
		hits, err := s.repo.LexicalSearch(ctx, query, s.topK)
		lexicalCh <- lexicalResult{hits: hits, err: err}
	}()

	vectorRes := <-vectorCh
	lexicalRes := <-lexicalCh

	if vectorRes.err != nil {
		return nil, fmt.Errorf("vector search failed: %w", vectorRes.err)
	}
	if lexicalRes.err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", lexicalRes.err)
	}

	seen := make(map[uuid.UUID]bool)
	docs := make([]*ContextDoc, 0, len(vectorRes.hits)+len(lexicalRes.hits))

	for _, hit := range vectorRes.hits {
		if seen[hit.Doc.ID] {
			continue
		}
		seen[hit.Doc.ID] = true
		doc := hit.Doc
		docs = append(docs, &doc)
	}

	for _, hit := range lexicalRes.hits {
		if seen[hit.Doc.ID] {
			continue
		}
		seen[hit.Doc.ID] = true
		doc := hit.Doc
		docs = append(docs, &doc)
	}

	s.logger.Info("hybrid retrieval completed",
		"vectorHits", len(vectorRes.hits),
		"lexicalHits", len(lexicalRes.hits),
		"merged", len(docs),
	)

	return docs, nil
}
