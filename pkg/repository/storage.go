package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/models"
)

// SearchHit は各検索手法が返す結果の共通形です。Scoreは手法ごとの
// 生スコアで、正規化は検索側（retriever）の責務です。
type SearchHit struct {
	ChunkID  uuid.UUID
	Content  string
	Score    float64
	Metadata map[string]string
}

// StorageGateway はチャンク・ベクトル・グラフの永続化と検索の契約です。
// いずれのメソッドも内部でリトライしません。
type StorageGateway interface {
	// StoreDocument はドキュメントを作成します
	StoreDocument(ctx context.Context, doc *models.Document) error

	// UpdateDocumentStatus はステータスとチャンク数を更新します
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, chunkCount int) error

	// StoreChunksWithEmbeddings はチャンク（Embedding含む）を一括登録します。
	// 1回の呼び出しはトランザクションとして扱われます。
	StoreChunksWithEmbeddings(ctx context.Context, namespace string, chunks []*models.Chunk) error

	// StoreEntitiesAndRelationships は抽出済みのエンティティと関係を登録します
	StoreEntitiesAndRelationships(ctx context.Context, namespace string, entities []models.Entity, relationships []models.Relationship) error

	// VectorSearch はコサイン類似度によるベクトル検索を実行します
	VectorSearch(ctx context.Context, namespace string, queryVector []float32, limit int) ([]SearchHit, error)

	// KeywordSearch は部分一致によるキーワード検索を実行します。
	// 検索対象はEmbedding付きのチャンク（子チャンク）のみです。
	KeywordSearch(ctx context.Context, namespace string, terms []string, limit int) ([]SearchHit, error)

	// GraphSearch はエンティティ名に紐づくチャンクを共起数でスコア付けして返します
	GraphSearch(ctx context.Context, namespace string, entityNames []string, limit int) ([]SearchHit, error)

	// NamespaceExists は名前空間にインデックス済みドキュメントが存在するかを返します
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// ListDocuments は名前空間内のドキュメント一覧を返します
	ListDocuments(ctx context.Context, namespace string) ([]*models.Document, error)

	// GetParentChunk は子チャンクの親チャンクを返します（Small-to-Big検索用）。
	// 親が存在しない場合は nil を返します。
	GetParentChunk(ctx context.Context, chunkID uuid.UUID) (*models.Chunk, error)
}
