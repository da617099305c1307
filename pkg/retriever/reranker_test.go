package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/models"
)

func rerankCandidates() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{ChunkID: uuid.New(), Content: "first", Score: 0.9, Source: models.SearchSourceVector},
		{ChunkID: uuid.New(), Content: "second", Score: 0.8, Source: models.SearchSourceVector},
		{ChunkID: uuid.New(), Content: "third", Score: 0.7, Source: models.SearchSourceKeyword},
	}
}

func TestReranker_Rerank(t *testing.T) {
	gen := &stubGenerator{content: `{"scores": [{"index": 1, "score": 0.2}, {"index": 2, "score": 0.9}, {"index": 3, "score": 0.5}]}`}
	r := NewReranker(gen, nil)
	candidates := rerankCandidates()

	results := r.Rerank(context.Background(), "question", candidates, 3)
	require.Len(t, results, 3)

	// 採点順に並べ替わるが、融合済みスコアは変更しない
	assert.Equal(t, candidates[1].ChunkID, results[0].ChunkID)
	assert.Equal(t, 0.8, results[0].Score)
	assert.Equal(t, candidates[2].ChunkID, results[1].ChunkID)
	assert.Equal(t, candidates[0].ChunkID, results[2].ChunkID)
}

func TestReranker_Rerank_FailureFallsBackToInputOrder(t *testing.T) {
	gen := &stubGenerator{err: errors.New("api down")}
	r := NewReranker(gen, nil)
	candidates := rerankCandidates()

	results := r.Rerank(context.Background(), "question", candidates, 2)
	require.Len(t, results, 2)
	assert.Equal(t, candidates[0].ChunkID, results[0].ChunkID)
	assert.Equal(t, candidates[1].ChunkID, results[1].ChunkID)
}

func TestReranker_Rerank_MalformedJSONFallsBack(t *testing.T) {
	gen := &stubGenerator{content: "not json"}
	r := NewReranker(gen, nil)
	candidates := rerankCandidates()

	results := r.Rerank(context.Background(), "question", candidates, 3)
	require.Len(t, results, 3)
	assert.Equal(t, candidates[0].ChunkID, results[0].ChunkID)
}

func TestReranker_Rerank_OutOfRangeIndexIgnored(t *testing.T) {
	gen := &stubGenerator{content: `{"scores": [{"index": 99, "score": 1.0}, {"index": 2, "score": 0.9}]}`}
	r := NewReranker(gen, nil)
	candidates := rerankCandidates()

	results := r.Rerank(context.Background(), "question", candidates, 3)
	require.Len(t, results, 3)
	// 範囲外のindexは無視され、採点された候補のみ前に出る
	assert.Equal(t, candidates[1].ChunkID, results[0].ChunkID)
}

func TestReranker_Rerank_Empty(t *testing.T) {
	r := NewReranker(&stubGenerator{}, nil)
	assert.Empty(t, r.Rerank(context.Background(), "question", nil, 5))
}
