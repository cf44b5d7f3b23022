package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/knowledge-chat/internal/core/retrieval"
)

// 語彙検索で採用する trigram 類似度スコアの下限
const lexicalSimilarityThreshold = 0.3

// DocumentRepository は retrieval.Repository を実装する PostgreSQL リポジトリ
type DocumentRepository struct {
	db DBTX
}

// NewDocumentRepository は新しい DocumentRepository を作成する
func NewDocumentRepository(db DBTX) *DocumentRepository {
	return &DocumentRepository{db: db}
}

var _ retrieval.Repository = (*DocumentRepository)(nil)

// VectorSearch はコサイン距離の昇順で近傍ドキュメントを検索する
func (r *DocumentRepository) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]*retrieval.VectorHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, docstring, file_path, embedding <=> $1 AS distance
		 FROM document
		 WHERE embedding IS NOT NULL
		 ORDER BY distance ASC
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	hits := make([]*retrieval.VectorHit, 0, limit)
	for rows.Next() {
		var (
			id        pgtype.UUID
			title     string
			content   string
			docstring pgtype.Text
			filePath  pgtype.Text
			distance  float64
		)
		if err := rows.Scan(&id, &title, &content, &docstring, &filePath, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hits = append(hits, &retrieval.VectorHit{
			Doc: retrieval.ContextDoc{
				ID:        PgtypeToUUID(id),
				Title:     title,
				Content:   content,
				Docstring: PgtextToStringPtr(docstring),
				FilePath:  PgtextToStringPtr(filePath),
			},
			Distance: distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vector hits: %w", err)
	}
	return hits, nil
}

// LexicalSearch はタイトルと docstring の trigram 類似度の合計を
// スコアとして検索する。docstring は語彙検索の結果には含めない。
func (r *DocumentRepository) LexicalSearch(ctx context.Context, query string, limit int) ([]*retrieval.LexicalHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, file_path,
		        similarity(title, $1) + similarity(coalesce(docstring, ''), $1) AS score
		 FROM document
		 WHERE similarity(title, $1) + similarity(coalesce(docstring, ''), $1) > $2
		 ORDER BY score DESC
		 LIMIT $3`,
		query, lexicalSimilarityThreshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute lexical search: %w", err)
	}
	defer rows.Close()

	hits := make([]*retrieval.LexicalHit, 0, limit)
	for rows.Next() {
		var (
			id       pgtype.UUID
			title    string
			content  string
			filePath pgtype.Text
			score    float64
		)
		if err := rows.Scan(&id, &title, &content, &filePath, &score); err != nil {
			return nil, fmt.Errorf("failed to scan lexical hit: %w", err)
		}
		hits = append(hits, &retrieval.LexicalHit{
			Doc: retrieval.ContextDoc{
				ID:       PgtypeToUUID(id),
				Title:    title,
				Content:  content,
				FilePath: PgtextToStringPtr(filePath),
			},
			Score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lexical hits: %w", err)
	}
	return hits, nil
}

// UpsertDocument はチャンクIDをキーにドキュメントを登録または更新する
func (r *DocumentRepository) UpsertDocument(ctx context.Context, doc retrieval.DocumentDraft) error {
	var embedding any
	if len(doc.Embedding) > 0 {
		embedding = pgvector.NewVector(doc.Embedding)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO document (title, content, docstring, file_path, chunk_id, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (chunk_id) DO UPDATE SET
		     title = EXCLUDED.title,
		     content = EXCLUDED.content,
		     docstring = EXCLUDED.docstring,
		     file_path = EXCLUDED.file_path,
		     embedding = EXCLUDED.embedding`,
		doc.Title, doc.Content, doc.Docstring, doc.FilePath, doc.ChunkID, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}
