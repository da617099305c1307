package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/pkg/db"
	"github.com/jinford/doc-rag/pkg/models"
)

// PostgresStorage はpgvector拡張を使ったStorageGateway実装です
type PostgresStorage struct {
	db *db.DB
}

// NewPostgresStorage は新しいPostgresStorageを作成します
func NewPostgresStorage(database *db.DB) *PostgresStorage {
	return &PostgresStorage{db: database}
}

// Migrate はスキーマとpgvector拡張を作成します。dimensionは
// Embeddingベクトルの次元数です。
func (p *PostgresStorage) Migrate(ctx context.Context, dimension int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id uuid PRIMARY KEY,
			namespace text NOT NULL,
			source_name text NOT NULL,
			chunk_count int NOT NULL DEFAULT 0,
			status text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id uuid PRIMARY KEY,
			document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			namespace text NOT NULL,
			content text NOT NULL,
			position int NOT NULL,
			char_offset int NOT NULL,
			parent_id uuid,
			embedding vector(%d),
			token_count int NOT NULL DEFAULT 0,
			content_hash text NOT NULL DEFAULT '',
			metadata jsonb
		)`, dimension),
		`CREATE TABLE IF NOT EXISTS entities (
			id uuid PRIMARY KEY,
			chunk_id uuid NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
			namespace text NOT NULL,
			name text NOT NULL,
			type text NOT NULL,
			description text NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id uuid PRIMARY KEY,
			chunk_id uuid NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
			namespace text NOT NULL,
			source_name text NOT NULL,
			target_name text NOT NULL,
			type text NOT NULL,
			confidence float8 NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_namespace ON documents (namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks (namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities (namespace, lower(name))`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// StoreDocument はドキュメントを作成します
func (p *PostgresStorage) StoreDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, namespace, source_name, chunk_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.Pool.Exec(ctx, query,
		doc.ID, doc.Namespace, doc.SourceName, doc.ChunkCount, string(doc.Status), doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// UpdateDocumentStatus はステータスとチャンク数を更新します
func (p *PostgresStorage) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, chunkCount int) error {
	query := `UPDATE documents SET status = $2, chunk_count = $3 WHERE id = $1`
	tag, err := p.db.Pool.Exec(ctx, query, id, string(status), chunkCount)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// StoreChunksWithEmbeddings はチャンクを1トランザクションで一括登録します
func (p *PostgresStorage) StoreChunksWithEmbeddings(ctx context.Context, namespace string, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(chunks))
	for i, chunk := range chunks {
		var embedding interface{}
		if len(chunk.Embedding) > 0 {
			embedding = pgvector.NewVector(chunk.Embedding)
		}
		rows[i] = []interface{}{
			chunk.ID,
			chunk.DocumentID,
			namespace,
			chunk.Content,
			chunk.Position,
			chunk.CharOffset,
			chunk.ParentID,
			embedding,
			chunk.TokenCount,
			chunk.ContentHash,
			chunk.Metadata,
		}
	}

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "document_id", "namespace", "content", "position", "char_offset", "parent_id", "embedding", "token_count", "content_hash", "metadata"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// StoreEntitiesAndRelationships はエンティティと関係を1トランザクションで登録します
func (p *PostgresStorage) StoreEntitiesAndRelationships(ctx context.Context, namespace string, entities []models.Entity, relationships []models.Relationship) error {
	if len(entities) == 0 && len(relationships) == 0 {
		return nil
	}

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(entities) > 0 {
		rows := make([][]interface{}, len(entities))
		for i, e := range entities {
			rows[i] = []interface{}{e.ID, e.ChunkID, namespace, e.Name, e.Type, e.Description}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"entities"},
			[]string{"id", "chunk_id", "namespace", "name", "type", "description"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to bulk insert entities: %w", err)
		}
	}

	if len(relationships) > 0 {
		rows := make([][]interface{}, len(relationships))
		for i, r := range relationships {
			rows[i] = []interface{}{r.ID, r.ChunkID, namespace, r.SourceName, r.TargetName, r.Type, r.Confidence}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"relationships"},
			[]string{"id", "chunk_id", "namespace", "source_name", "target_name", "type", "confidence"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to bulk insert relationships: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entities: %w", err)
	}
	return nil
}

// VectorSearch はコサイン類似度によるベクトル検索を実行します
func (p *PostgresStorage) VectorSearch(ctx context.Context, namespace string, queryVector []float32, limit int) ([]SearchHit, error) {
	query := `
		SELECT id, content, 1 - (embedding <=> $2) AS score, COALESCE(metadata, '{}'::jsonb)
		FROM chunks
		WHERE namespace = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := p.db.Pool.Query(ctx, query, namespace, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// KeywordSearch は部分一致によるキーワード検索を実行します。
// スコアは一致した語数です。
func (p *PostgresStorage) KeywordSearch(ctx context.Context, namespace string, terms []string, limit int) ([]SearchHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := `
		SELECT c.id, c.content, count(t.term)::float8 AS score, COALESCE(c.metadata, '{}'::jsonb)
		FROM chunks c
		JOIN unnest($2::text[]) AS t(term) ON c.content ILIKE '%' || t.term || '%'
		WHERE c.namespace = $1 AND c.embedding IS NOT NULL
		GROUP BY c.id, c.content, c.metadata
		ORDER BY score DESC, c.position ASC
		LIMIT $3
	`
	rows, err := p.db.Pool.Query(ctx, query, namespace, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// GraphSearch はエンティティ名に紐づくチャンクを共起数でスコア付けして返します
func (p *PostgresStorage) GraphSearch(ctx context.Context, namespace string, entityNames []string, limit int) ([]SearchHit, error) {
	if len(entityNames) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(entityNames))
	for i, name := range entityNames {
		lowered[i] = strings.ToLower(name)
	}

	query := `
		SELECT c.id, c.content, count(DISTINCT lower(e.name))::float8 AS score, COALESCE(c.metadata, '{}'::jsonb)
		FROM chunks c
		JOIN entities e ON e.chunk_id = c.id
		WHERE c.namespace = $1 AND lower(e.name) = ANY($2)
		GROUP BY c.id, c.content, c.metadata
		ORDER BY score DESC, c.position ASC
		LIMIT $3
	`
	rows, err := p.db.Pool.Query(ctx, query, namespace, lowered, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run graph search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// NamespaceExists は名前空間にドキュメントが存在するかを返します
func (p *PostgresStorage) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE namespace = $1)`
	if err := p.db.Pool.QueryRow(ctx, query, namespace).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check namespace: %w", err)
	}
	return exists, nil
}

// ListDocuments は名前空間内のドキュメント一覧を作成日時順で返します
func (p *PostgresStorage) ListDocuments(ctx context.Context, namespace string) ([]*models.Document, error) {
	query := `
		SELECT id, namespace, source_name, chunk_count, status, created_at
		FROM documents
		WHERE namespace = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := p.db.Pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var status string
		if err := rows.Scan(&doc.ID, &doc.Namespace, &doc.SourceName, &doc.ChunkCount, &status, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Status = models.DocumentStatus(status)
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// GetParentChunk は子チャンクの親チャンクを返します
func (p *PostgresStorage) GetParentChunk(ctx context.Context, chunkID uuid.UUID) (*models.Chunk, error) {
	query := `
		SELECT parent.id, parent.document_id, parent.content, parent.position, parent.char_offset, parent.token_count, parent.content_hash
		FROM chunks child
		JOIN chunks parent ON parent.id = child.parent_id
		WHERE child.id = $1
	`
	var chunk models.Chunk
	err := p.db.Pool.QueryRow(ctx, query, chunkID).Scan(
		&chunk.ID, &chunk.DocumentID, &chunk.Content, &chunk.Position, &chunk.CharOffset, &chunk.TokenCount, &chunk.ContentHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parent chunk: %w", err)
	}
	return &chunk, nil
}

func scanHits(rows pgx.Rows) ([]SearchHit, error) {
	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ChunkID, &hit.Content, &hit.Score, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search hits: %w", err)
	}
	return hits, nil
}

var _ StorageGateway = (*PostgresStorage)(nil)
