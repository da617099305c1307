package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/llm"
)

// stubGenerator は固定の応答またはエラーを返します
type stubGenerator struct {
	content string
	err     error
	calls   int
}

func (s *stubGenerator) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return s.StructuredComplete(ctx, req)
}

func (s *stubGenerator) StructuredComplete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return llm.CompletionResponse{}, s.err
	}
	return llm.CompletionResponse{Content: s.content}, nil
}

func TestPreprocessor_Process_Keywords(t *testing.T) {
	p := NewPreprocessor(nil, false, nil)

	query, err := p.Process(context.Background(), "What is the maximum chunk size?")
	require.NoError(t, err)

	assert.Equal(t, "What is the maximum chunk size?", query.Original)
	assert.Equal(t, query.Original, query.Expanded)
	// ストップワードと1文字語は除外される
	assert.Equal(t, []string{"maximum", "chunk", "size"}, query.Keywords)
}

func TestPreprocessor_Process_EmptyQuestion(t *testing.T) {
	p := NewPreprocessor(nil, false, nil)

	_, err := p.Process(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPreprocessor_Process_Expansion(t *testing.T) {
	gen := &stubGenerator{content: `{"expanded_query": "maximum segment size limit", "keywords": ["segment", "limit"]}`}
	p := NewPreprocessor(gen, true, nil)

	query, err := p.Process(context.Background(), "What is the chunk size?")
	require.NoError(t, err)

	assert.Equal(t, "maximum segment size limit", query.Expanded)
	assert.Contains(t, query.Keywords, "chunk")
	assert.Contains(t, query.Keywords, "segment")
	assert.Contains(t, query.Keywords, "limit")
}

func TestPreprocessor_Process_ExpansionFailureDegrades(t *testing.T) {
	gen := &stubGenerator{err: errors.New("api down")}
	p := NewPreprocessor(gen, true, nil)

	query, err := p.Process(context.Background(), "What is the chunk size?")
	require.NoError(t, err)

	// 拡張失敗時は元の質問のまま
	assert.Equal(t, query.Original, query.Expanded)
	assert.Equal(t, []string{"chunk", "size"}, query.Keywords)
}

func TestPreprocessor_Process_ExpansionDisabled(t *testing.T) {
	gen := &stubGenerator{content: `{"expanded_query": "never used"}`}
	p := NewPreprocessor(gen, false, nil)

	query, err := p.Process(context.Background(), "chunk size")
	require.NoError(t, err)
	assert.Equal(t, "chunk size", query.Expanded)
	assert.Zero(t, gen.calls)
}
