package repository

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/models"
)

// MemoryStorage はブルートフォースのコサイン類似度計算を使う
// インメモリのStorageGateway実装です。テストとローカル実行用。
type MemoryStorage struct {
	mu            sync.RWMutex
	documents     map[uuid.UUID]*models.Document
	chunks        map[uuid.UUID]*models.Chunk
	chunkOrder    []uuid.UUID // 挿入順（決定的な走査のため）
	namespaces    map[uuid.UUID]string
	entities      []models.Entity
	relationships []models.Relationship
	entityNS      map[uuid.UUID]string // chunkID -> namespace
}

// NewMemoryStorage は新しいMemoryStorageを作成します
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		documents:  make(map[uuid.UUID]*models.Document),
		chunks:     make(map[uuid.UUID]*models.Chunk),
		namespaces: make(map[uuid.UUID]string),
		entityNS:   make(map[uuid.UUID]string),
	}
}

// StoreDocument はドキュメントを作成します
func (m *MemoryStorage) StoreDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *doc
	m.documents[doc.ID] = &copied
	return nil
}

// UpdateDocumentStatus はステータスとチャンク数を更新します
func (m *MemoryStorage) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "document not found: %s", id)
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	return nil
}

// StoreChunksWithEmbeddings はチャンクを一括登録します
func (m *MemoryStorage) StoreChunksWithEmbeddings(ctx context.Context, namespace string, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		copied := *chunk
		m.chunks[chunk.ID] = &copied
		m.chunkOrder = append(m.chunkOrder, chunk.ID)
		m.namespaces[chunk.ID] = namespace
	}
	return nil
}

// StoreEntitiesAndRelationships はエンティティと関係を登録します
func (m *MemoryStorage) StoreEntitiesAndRelationships(ctx context.Context, namespace string, entities []models.Entity, relationships []models.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities = append(m.entities, entities...)
	m.relationships = append(m.relationships, relationships...)
	for _, e := range entities {
		m.entityNS[e.ChunkID] = namespace
	}
	return nil
}

// VectorSearch はコサイン類似度によるベクトル検索を実行します
func (m *MemoryStorage) VectorSearch(ctx context.Context, namespace string, queryVector []float32, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for _, id := range m.chunkOrder {
		if m.namespaces[id] != namespace {
			continue
		}
		chunk := m.chunks[id]
		if len(chunk.Embedding) == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			ChunkID:  chunk.ID,
			Content:  chunk.Content,
			Score:    cosineSimilarity(queryVector, chunk.Embedding),
			Metadata: chunk.Metadata,
		})
	}

	return topHits(hits, limit), nil
}

// KeywordSearch は部分一致によるキーワード検索を実行します。
// スコアは一致した語数です。
func (m *MemoryStorage) KeywordSearch(ctx context.Context, namespace string, terms []string, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for _, id := range m.chunkOrder {
		if m.namespaces[id] != namespace {
			continue
		}
		chunk := m.chunks[id]
		// 親チャンクは検索対象外（コンテキスト拡張専用）
		if len(chunk.Embedding) == 0 {
			continue
		}
		content := strings.ToLower(chunk.Content)

		matched := 0
		for _, term := range terms {
			if term == "" {
				continue
			}
			if strings.Contains(content, strings.ToLower(term)) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			ChunkID:  chunk.ID,
			Content:  chunk.Content,
			Score:    float64(matched),
			Metadata: chunk.Metadata,
		})
	}

	return topHits(hits, limit), nil
}

// GraphSearch はエンティティ名に紐づくチャンクを共起数でスコア付けして返します
func (m *MemoryStorage) GraphSearch(ctx context.Context, namespace string, entityNames []string, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(entityNames))
	for _, name := range entityNames {
		wanted[strings.ToLower(name)] = true
	}

	// chunkID -> 一致したエンティティ名の集合
	matches := make(map[uuid.UUID]map[string]bool)
	for _, e := range m.entities {
		if m.entityNS[e.ChunkID] != namespace {
			continue
		}
		name := strings.ToLower(e.Name)
		if !wanted[name] {
			continue
		}
		if matches[e.ChunkID] == nil {
			matches[e.ChunkID] = make(map[string]bool)
		}
		matches[e.ChunkID][name] = true
	}

	var hits []SearchHit
	for _, id := range m.chunkOrder {
		names, ok := matches[id]
		if !ok {
			continue
		}
		chunk := m.chunks[id]
		hits = append(hits, SearchHit{
			ChunkID:  chunk.ID,
			Content:  chunk.Content,
			Score:    float64(len(names)),
			Metadata: chunk.Metadata,
		})
	}

	return topHits(hits, limit), nil
}

// NamespaceExists は名前空間にドキュメントが存在するかを返します
func (m *MemoryStorage) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.documents {
		if doc.Namespace == namespace {
			return true, nil
		}
	}
	return false, nil
}

// ListDocuments は名前空間内のドキュメント一覧を作成日時順で返します
func (m *MemoryStorage) ListDocuments(ctx context.Context, namespace string) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []*models.Document
	for _, doc := range m.documents {
		if doc.Namespace == namespace {
			copied := *doc
			docs = append(docs, &copied)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// GetParentChunk は子チャンクの親チャンクを返します
func (m *MemoryStorage) GetParentChunk(ctx context.Context, chunkID uuid.UUID) (*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "chunk not found: %s", chunkID)
	}
	if chunk.ParentID == nil {
		return nil, nil
	}
	parent, ok := m.chunks[*chunk.ParentID]
	if !ok {
		return nil, nil
	}
	copied := *parent
	return &copied, nil
}

// cosineSimilarity はコサイン類似度を計算します
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topHits はスコア降順（同点は先に現れた順）でlimit件に切り詰めます
func topHits(hits []SearchHit, limit int) []SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

var _ StorageGateway = (*MemoryStorage)(nil)
