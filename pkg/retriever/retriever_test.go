package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/models"
	"github.com/jinford/doc-rag/pkg/repository"
)

// failingEmbedder はベクトルブランチの失敗をシミュレートします
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding api down")
}

// fixedEmbedder は常に同じベクトルを返します
type fixedEmbedder struct {
	vector []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.vector
	}
	return vectors, nil
}

func seedRetrieverStorage(t *testing.T, store *repository.MemoryStorage) []*models.Chunk {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{
		ID:         uuid.New(),
		Namespace:  "ns",
		SourceName: "notes.txt",
		Status:     models.DocumentStatusCompleted,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.StoreDocument(ctx, doc))

	chunks := []*models.Chunk{
		{ID: uuid.New(), DocumentID: doc.ID, Content: "Alpha note about storage engines.", Position: 0, Embedding: []float32{1, 0, 0}},
		{ID: uuid.New(), DocumentID: doc.ID, Content: "Beta note about vector search.", Position: 1, Embedding: []float32{0, 1, 0}},
		{ID: uuid.New(), DocumentID: doc.ID, Content: "Gamma note about graphs.", Position: 2, Embedding: []float32{0, 0, 1}},
	}
	require.NoError(t, store.StoreChunksWithEmbeddings(ctx, "ns", chunks))
	return chunks
}

func TestHybridRetriever_Search_NoMethodEnabled(t *testing.T) {
	store := repository.NewMemoryStorage()
	r := NewHybridRetriever(store, &fixedEmbedder{vector: []float32{1, 0, 0}}, nil)

	_, err := r.Search(context.Background(), "ns", &models.Query{Original: "q", Expanded: "q"}, SearchOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestHybridRetriever_Search_NamespaceNotFound(t *testing.T) {
	store := repository.NewMemoryStorage()
	r := NewHybridRetriever(store, &fixedEmbedder{vector: []float32{1, 0, 0}}, nil)

	_, err := r.Search(context.Background(), "missing", &models.Query{Original: "q", Expanded: "q"}, SearchOptions{UseVector: true})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestHybridRetriever_Search_Dedup(t *testing.T) {
	store := repository.NewMemoryStorage()
	chunks := seedRetrieverStorage(t, store)
	r := NewHybridRetriever(store, &fixedEmbedder{vector: []float32{0, 1, 0}}, nil)

	query := &models.Query{Original: "vector", Expanded: "vector", Keywords: []string{"vector"}}
	results, err := r.Search(context.Background(), "ns", query, SearchOptions{
		TopK: 10, UseVector: true, UseKeyword: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// 同一チャンクは1回だけ現れる
	seen := make(map[uuid.UUID]bool)
	for _, result := range results {
		assert.False(t, seen[result.ChunkID], "duplicate chunk id %s", result.ChunkID)
		seen[result.ChunkID] = true
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
	}

	// ベクトルでもキーワードでも最上位の"Beta note"チャンクが先頭
	assert.Equal(t, chunks[1].ID, results[0].ChunkID)
}

func TestHybridRetriever_Search_BranchFailureIsolation(t *testing.T) {
	store := repository.NewMemoryStorage()
	chunks := seedRetrieverStorage(t, store)
	// ベクトルブランチだけが失敗する構成
	r := NewHybridRetriever(store, &failingEmbedder{}, nil)

	query := &models.Query{Original: "beta", Expanded: "beta", Keywords: []string{"beta"}}
	results, err := r.Search(context.Background(), "ns", query, SearchOptions{
		TopK: 10, UseVector: true, UseKeyword: true,
	})
	require.NoError(t, err)

	// キーワードブランチの結果はそのまま返る
	require.Len(t, results, 1)
	assert.Equal(t, chunks[1].ID, results[0].ChunkID)
	assert.Equal(t, models.SearchSourceKeyword, results[0].Source)
}

func TestHybridRetriever_Search_AllBranchesFail(t *testing.T) {
	store := repository.NewMemoryStorage()
	seedRetrieverStorage(t, store)
	r := NewHybridRetriever(store, &failingEmbedder{}, nil)

	query := &models.Query{Original: "q", Expanded: "q"}
	_, err := r.Search(context.Background(), "ns", query, SearchOptions{UseVector: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSearch, apperrors.CodeOf(err))
}

func TestHybridRetriever_Search_TopKTruncation(t *testing.T) {
	store := repository.NewMemoryStorage()
	seedRetrieverStorage(t, store)
	r := NewHybridRetriever(store, &fixedEmbedder{vector: []float32{1, 0, 0}}, nil)

	query := &models.Query{Original: "note", Expanded: "note", Keywords: []string{"note"}}
	results, err := r.Search(context.Background(), "ns", query, SearchOptions{
		TopK: 2, UseVector: true, UseKeyword: true,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestNormalizeHits(t *testing.T) {
	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()

	hits := []repository.SearchHit{
		{ChunkID: id1, Score: 10},
		{ChunkID: id2, Score: 5},
		{ChunkID: id3, Score: 0},
	}
	normalized := normalizeHits(hits)
	require.Len(t, normalized, 3)
	assert.Equal(t, 1.0, normalized[0].Score)
	assert.Equal(t, 0.5, normalized[1].Score)
	assert.Equal(t, 0.0, normalized[2].Score)

	// スコア範囲が退化している場合は1.0
	degenerate := normalizeHits([]repository.SearchHit{{ChunkID: id1, Score: 7}, {ChunkID: id2, Score: 7}})
	assert.Equal(t, 1.0, degenerate[0].Score)
	assert.Equal(t, 1.0, degenerate[1].Score)

	assert.Empty(t, normalizeHits(nil))
}

func TestFusionSet_GraphBoostCapped(t *testing.T) {
	id := uuid.New()

	fused := newFusionSet()
	fused.add([]models.RetrievedChunk{{ChunkID: id, Score: 0.9}}, models.SearchSourceGraph, graphScoreBoost)

	results := fused.ranked()
	require.Len(t, results, 1)
	// 0.9 * 1.2 は1.0でキャップされる
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, models.SearchSourceGraph, results[0].Source)
}

func TestFusionSet_MaxScoreWins(t *testing.T) {
	id := uuid.New()

	fused := newFusionSet()
	fused.add([]models.RetrievedChunk{{ChunkID: id, Score: 0.4}}, models.SearchSourceVector, 1.0)
	fused.add([]models.RetrievedChunk{{ChunkID: id, Score: 0.8}}, models.SearchSourceKeyword, 1.0)

	results := fused.ranked()
	require.Len(t, results, 1)
	assert.Equal(t, 0.8, results[0].Score)
	// ソースは先に現れたブランチのまま
	assert.Equal(t, models.SearchSourceVector, results[0].Source)
}
