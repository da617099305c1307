package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/chunker"
	"github.com/jinford/doc-rag/pkg/config"
	"github.com/jinford/doc-rag/pkg/indexer/source"
	"github.com/jinford/doc-rag/pkg/models"
	"github.com/jinford/doc-rag/pkg/repository"
)

// stubEmbedder は "FAILME" を含むテキストのバッチだけを失敗させます
type stubEmbedder struct {
	mu      sync.Mutex
	calls   int
	failAll bool
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.failAll {
		return nil, errors.New("embedding api down")
	}
	for _, text := range texts {
		if strings.Contains(text, "FAILME") {
			return nil, errors.New("embedding api down")
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

// stubExtractor はチャンク内容の先頭文字から決まる名前のエンティティを返します
type stubExtractor struct{}

func (s *stubExtractor) Extract(ctx context.Context, chunkID uuid.UUID, chunkText string) ([]models.Entity, []models.Relationship) {
	name := fmt.Sprintf("e-%c", chunkText[0])
	return []models.Entity{{ID: uuid.New(), Name: name, Type: "TEST", ChunkID: chunkID}}, nil
}

func newTestIndexer(t *testing.T, embedder *stubEmbedder, storage repository.StorageGateway) *Indexer {
	t.Helper()
	ch, err := chunker.New()
	require.NoError(t, err)

	cfg := config.IndexingConfig{
		ChunkSize:       100,
		ChunkOverlap:    0,
		ParentChunkSize: 1000,
		EmbedBatchSize:  1,
		MaxConcurrency:  2,
		ExtractEntities: true,
	}
	return NewIndexer(storage, embedder, &stubExtractor{}, ch, cfg, nil)
}

// partialFailureContent は100文字のウィンドウ3つに分割される入力です。
// 2番目のウィンドウだけがEmbeddingに失敗します。
func partialFailureContent() string {
	return strings.Repeat("a", 100) + "FAILME" + strings.Repeat("b", 94) + strings.Repeat("c", 50)
}

func TestIndexer_IndexDocument(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{}, storage)
	ctx := context.Background()

	doc, err := idx.IndexDocument(ctx, "ns", "notes.txt", strings.Repeat("a", 100)+strings.Repeat("b", 50))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)

	// 検索経路の往復: インデックスした内容がキーワード検索で見つかる
	hits, err := storage.KeywordSearch(ctx, "ns", []string{"bbb"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestIndexer_IndexDocument_PartialBatchFailure(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{}, storage)
	ctx := context.Background()

	// バッチサイズ1で3チャンク -> 3バッチ中1つが失敗
	doc, err := idx.IndexDocument(ctx, "ns", "notes.txt", partialFailureContent())
	require.NoError(t, err)

	// 一部のバッチが落ちてもドキュメントは完了扱い
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)

	// 失敗バッチのチャンクは検索対象に現れない
	hits, err := storage.KeywordSearch(ctx, "ns", []string{"FAILME"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// 失敗チャンクに紐づくエンティティも保存されない
	hits, err = storage.GraphSearch(ctx, "ns", []string{"e-F"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = storage.GraphSearch(ctx, "ns", []string{"e-a"}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexer_IndexDocument_AllBatchesFail(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{failAll: true}, storage)
	ctx := context.Background()

	_, err := idx.IndexDocument(ctx, "ns", "notes.txt", partialFailureContent())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeProcessing, apperrors.CodeOf(err))

	docs, err := storage.ListDocuments(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocumentStatusFailed, docs[0].Status)
}

func TestIndexer_IndexDocument_Validation(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{}, storage)
	ctx := context.Background()

	_, err := idx.IndexDocument(ctx, "", "notes.txt", "content")
	assert.True(t, apperrors.IsValidation(err))

	_, err = idx.IndexDocument(ctx, "ns", "notes.txt", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestIndexer_IndexDocument_ParentChildLink(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{}, storage)
	ctx := context.Background()

	_, err := idx.IndexDocument(ctx, "ns", "notes.txt", strings.Repeat("a", 100)+strings.Repeat("b", 100))
	require.NoError(t, err)

	hits, err := storage.KeywordSearch(ctx, "ns", []string{"aaa"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// 子チャンクから親チャンク（ドキュメント全体）に辿れる
	parent, err := storage.GetParentChunk(ctx, hits[0].ChunkID)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Len(t, []rune(parent.Content), 200)
}

// staticProvider はテスト用の固定ドキュメントを返すProviderです
type staticProvider struct {
	docs []*source.Document
}

func (p *staticProvider) Type() string { return "static" }

func (p *staticProvider) SourceName(identifier string) string { return identifier }

func (p *staticProvider) FetchDocuments(ctx context.Context, identifier string, opts source.FetchOptions) ([]*source.Document, string, error) {
	return p.docs, "v1", nil
}

func TestIndexer_IndexSource(t *testing.T) {
	storage := repository.NewMemoryStorage()
	idx := newTestIndexer(t, &stubEmbedder{}, storage)

	prov := &staticProvider{docs: []*source.Document{
		{Path: "good.txt", Content: strings.Repeat("x", 150)},
		{Path: "empty.txt", Content: ""},
	}}

	result, err := idx.IndexSource(context.Background(), prov, "src", "ns", source.FetchOptions{})
	require.NoError(t, err)

	// 個々のドキュメントの失敗は全体を止めない
	assert.Equal(t, 1, result.ProcessedDocuments)
	assert.Equal(t, 1, result.FailedDocuments)
	assert.Equal(t, "v1", result.VersionIdentifier)
	assert.Equal(t, 2, result.TotalChunks)
}
