package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/chunker"
	"github.com/jinford/doc-rag/pkg/config"
	"github.com/jinford/doc-rag/pkg/indexer/source"
	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
	"github.com/jinford/doc-rag/pkg/repository"
	"github.com/jinford/doc-rag/pkg/workerpool"
)

// EntityExtractor はチャンクからエンティティと関係を抽出します。
// 抽出はベストエフォートであり失敗してもインデックス化は継続します。
type EntityExtractor interface {
	Extract(ctx context.Context, chunkID uuid.UUID, chunkText string) ([]models.Entity, []models.Relationship)
}

// Indexer はドキュメントのインデックス化を管理します
type Indexer struct {
	storage   repository.StorageGateway
	embedder  llm.EmbeddingGateway
	extractor EntityExtractor // nilなら抽出を行わない
	chunker   *chunker.Chunker
	cfg       config.IndexingConfig
	logger    *slog.Logger
}

// NewIndexer は新しいIndexerを作成します
func NewIndexer(
	storage repository.StorageGateway,
	embedder llm.EmbeddingGateway,
	extractor EntityExtractor,
	ch *chunker.Chunker,
	cfg config.IndexingConfig,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		storage:   storage,
		embedder:  embedder,
		extractor: extractor,
		chunker:   ch,
		cfg:       cfg,
		logger:    logger,
	}
}

// IndexResult はインデックス化の結果
type IndexResult struct {
	ProcessedDocuments int
	FailedDocuments    int
	TotalChunks        int
	VersionIdentifier  string
	Duration           time.Duration
}

// IndexDocument は1ドキュメントをインデックス化します。
// ドキュメントは pending -> processing -> completed/failed と遷移します。
// Embeddingバッチの一部が失敗しても残りのチャンクで完了扱いとし、
// 保存に失敗した場合のみ failed になります。
func (idx *Indexer) IndexDocument(ctx context.Context, namespace, sourceName, content string) (*models.Document, error) {
	if namespace == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "namespace must not be empty")
	}
	if content == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "document content must not be empty")
	}

	doc := &models.Document{
		ID:         uuid.New(),
		Namespace:  namespace,
		SourceName: sourceName,
		Status:     models.DocumentStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := idx.storage.StoreDocument(ctx, doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to store document %s", sourceName)
	}

	if err := idx.storage.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusProcessing, 0); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to mark document as processing")
	}

	chunks, entities, relationships, err := idx.processContent(ctx, doc, content)
	if err != nil {
		idx.markFailed(ctx, doc)
		return nil, err
	}

	if err := idx.storage.StoreChunksWithEmbeddings(ctx, namespace, chunks); err != nil {
		idx.markFailed(ctx, doc)
		return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to store chunks for %s", sourceName)
	}
	if len(entities) > 0 || len(relationships) > 0 {
		if err := idx.storage.StoreEntitiesAndRelationships(ctx, namespace, entities, relationships); err != nil {
			idx.markFailed(ctx, doc)
			return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to store graph data for %s", sourceName)
		}
	}

	chunkCount := countEmbedded(chunks)
	if err := idx.storage.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusCompleted, chunkCount); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to mark document as completed")
	}
	doc.Status = models.DocumentStatusCompleted
	doc.ChunkCount = chunkCount

	idx.logger.Info("document indexed",
		"namespace", namespace,
		"source", sourceName,
		"chunks", chunkCount,
		"entities", len(entities),
	)
	return doc, nil
}

// processContent は分割・Embedding・抽出を実行し、保存対象の
// チャンクとグラフデータを組み立てます
func (idx *Indexer) processContent(ctx context.Context, doc *models.Document, content string) ([]*models.Chunk, []models.Entity, []models.Relationship, error) {
	parents, err := idx.chunker.SplitHierarchical(content, idx.cfg.ParentChunkSize, idx.cfg.ChunkSize, idx.cfg.ChunkOverlap)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(parents) == 0 {
		return nil, nil, nil, nil
	}

	// 親チャンクはコンテキスト拡張用に保存し、Embeddingは子チャンクのみに付ける
	var parentChunks []*models.Chunk
	var childChunks []*models.Chunk
	for _, parent := range parents {
		parentChunk := &models.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Content:     parent.Text,
			Position:    parent.Position,
			CharOffset:  parent.Offset,
			TokenCount:  parent.TokenCount,
			ContentHash: parent.ContentHash,
			Metadata:    map[string]string{"source": doc.SourceName, "tier": "parent"},
		}
		parentChunks = append(parentChunks, parentChunk)

		for _, child := range parent.Children {
			childChunks = append(childChunks, &models.Chunk{
				ID:          uuid.New(),
				DocumentID:  doc.ID,
				Content:     child.Text,
				Position:    child.Position,
				CharOffset:  child.Offset,
				ParentID:    &parentChunk.ID,
				TokenCount:  child.TokenCount,
				ContentHash: child.ContentHash,
				Metadata:    map[string]string{"source": doc.SourceName},
			})
		}
	}

	// Embeddingとエンティティ抽出は独立なので並行に実行する
	var (
		embedded      []*models.Chunk
		entities      []models.Entity
		relationships []models.Relationship
	)

	stages := []workerpool.Task{
		func(ctx context.Context) error {
			var stageErr error
			embedded, stageErr = idx.embedChunks(ctx, childChunks)
			return stageErr
		},
		func(ctx context.Context) error {
			entities, relationships = idx.extractGraph(ctx, childChunks)
			return nil
		},
	}
	pool := workerpool.New(2, 0)
	for _, stageErr := range pool.Run(ctx, stages) {
		if stageErr != nil {
			return nil, nil, nil, apperrors.Wrap(apperrors.CodeProcessing, stageErr, "failed to process document content")
		}
	}

	// 落ちたバッチのチャンクに紐づくエンティティ・関係は捨てる
	kept := make(map[uuid.UUID]bool, len(embedded))
	for _, chunk := range embedded {
		kept[chunk.ID] = true
	}
	entities = filterEntities(entities, kept)
	relationships = filterRelationships(relationships, kept)

	return append(parentChunks, embedded...), entities, relationships, nil
}

// embedChunks は子チャンクをバッチ単位でEmbeddingします。
// 失敗したバッチはログに記録して除外し、成功分のみを返します。
// 全バッチが失敗した場合はエラーを返します。
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*models.Chunk) ([]*models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	batchSize := idx.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	var batches [][]*models.Chunk
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}

	results := make([][][]float32, len(batches))
	tasks := make([]workerpool.Task, len(batches))
	for i, batch := range batches {
		i, batch := i, batch
		tasks[i] = func(ctx context.Context) error {
			texts := make([]string, len(batch))
			for j, chunk := range batch {
				texts[j] = chunk.Content
			}
			vectors, err := idx.embedder.Embed(ctx, texts)
			if err != nil {
				return err
			}
			results[i] = vectors
			return nil
		}
	}

	pool := workerpool.New(idx.concurrency(), 0)
	errs := pool.Run(ctx, tasks)

	var embedded []*models.Chunk
	failedBatches := 0
	for i, batch := range batches {
		if errs[i] != nil {
			failedBatches++
			idx.logger.Warn("embedding batch failed, dropping its chunks",
				"batch", i, "chunks", len(batch), "error", errs[i])
			continue
		}
		for j, chunk := range batch {
			if j < len(results[i]) {
				chunk.Embedding = results[i][j]
				embedded = append(embedded, chunk)
			}
		}
	}

	if failedBatches == len(batches) {
		return nil, apperrors.New(apperrors.CodeProcessing, "all %d embedding batches failed", len(batches))
	}
	return embedded, nil
}

// extractGraph は子チャンクからエンティティと関係を並行抽出します
func (idx *Indexer) extractGraph(ctx context.Context, chunks []*models.Chunk) ([]models.Entity, []models.Relationship) {
	if idx.extractor == nil || !idx.cfg.ExtractEntities || len(chunks) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var entities []models.Entity
	var relationships []models.Relationship

	tasks := make([]workerpool.Task, len(chunks))
	for i, chunk := range chunks {
		chunk := chunk
		tasks[i] = func(ctx context.Context) error {
			chunkEntities, chunkRelationships := idx.extractor.Extract(ctx, chunk.ID, chunk.Content)
			mu.Lock()
			entities = append(entities, chunkEntities...)
			relationships = append(relationships, chunkRelationships...)
			mu.Unlock()
			return nil
		}
	}

	pool := workerpool.New(idx.concurrency(), 0)
	pool.Run(ctx, tasks)
	return entities, relationships
}

// IndexSource はプロバイダー経由で取得したソース全体をインデックス化します。
// 個々のドキュメントの失敗は記録して続行します。
func (idx *Indexer) IndexSource(ctx context.Context, prov source.Provider, identifier, namespace string, opts source.FetchOptions) (*IndexResult, error) {
	startTime := time.Now()

	idx.logger.Info("starting index process",
		"sourceType", prov.Type(),
		"identifier", identifier,
		"namespace", namespace,
	)

	documents, version, err := prov.FetchDocuments(ctx, identifier, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProcessing, err, "failed to fetch documents from %s source", prov.Type())
	}

	result := &IndexResult{VersionIdentifier: version}
	for _, srcDoc := range documents {
		doc, err := idx.IndexDocument(ctx, namespace, srcDoc.Path, srcDoc.Content)
		if err != nil {
			result.FailedDocuments++
			idx.logger.Warn("failed to index document", "path", srcDoc.Path, "error", err)
			continue
		}
		result.ProcessedDocuments++
		result.TotalChunks += doc.ChunkCount
	}

	result.Duration = time.Since(startTime)
	idx.logger.Info("index process finished",
		"processed", result.ProcessedDocuments,
		"failed", result.FailedDocuments,
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

func (idx *Indexer) concurrency() int {
	if idx.cfg.MaxConcurrency > 0 {
		return idx.cfg.MaxConcurrency
	}
	return 4
}

func (idx *Indexer) markFailed(ctx context.Context, doc *models.Document) {
	if err := idx.storage.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusFailed, 0); err != nil {
		idx.logger.Error("failed to mark document as failed", "documentID", doc.ID, "error", err)
	}
	doc.Status = models.DocumentStatusFailed
}

// countEmbedded はEmbedding付きチャンク（＝検索対象の子チャンク）の数を返します
func countEmbedded(chunks []*models.Chunk) int {
	count := 0
	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 {
			count++
		}
	}
	return count
}

func filterEntities(entities []models.Entity, kept map[uuid.UUID]bool) []models.Entity {
	result := entities[:0]
	for _, e := range entities {
		if kept[e.ChunkID] {
			result = append(result, e)
		}
	}
	return result
}

func filterRelationships(relationships []models.Relationship, kept map[uuid.UUID]bool) []models.Relationship {
	result := relationships[:0]
	for _, r := range relationships {
		if kept[r.ChunkID] {
			result = append(result, r)
		}
	}
	return result
}
