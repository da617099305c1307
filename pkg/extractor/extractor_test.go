package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/llm"
)

// scriptedGenerator は呼び出しごとに用意された応答を順番に返すスタブです
type scriptedGenerator struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedGenerator) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return s.StructuredComplete(ctx, req)
}

func (s *scriptedGenerator) StructuredComplete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.CompletionResponse{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return llm.CompletionResponse{Content: "{}"}, nil
	}
	return llm.CompletionResponse{Content: s.responses[i]}, nil
}

func TestParseEntitiesJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{
			name:    "オブジェクト形式",
			content: `{"entities": [{"type": "PERSON", "name": "山田", "description": "著者"}]}`,
			want:    1,
		},
		{
			name:    "トップレベル配列",
			content: `[{"type": "TECHNOLOGY", "name": "PostgreSQL"}]`,
			want:    1,
		},
		{
			name: "コードフェンス付き",
			content: "```json\n" +
				`{"entities": [{"type": "ORG", "name": "ACME"}]}` +
				"\n```",
			want: 1,
		},
		{
			name:    "空のリスト",
			content: `{"entities": []}`,
			want:    0,
		},
		{
			name:    "不正なJSON",
			content: `entities: PostgreSQL`,
			want:    0,
		},
		{
			name:    "名前が空の要素は除外",
			content: `{"entities": [{"type": "ORG", "name": "  "}, {"type": "ORG", "name": "ACME"}]}`,
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEntitiesJSON(tt.content)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseRelationsJSON(t *testing.T) {
	got := ParseRelationsJSON(`{"relationships": [{"source": "A", "target": "B", "type": "USES", "confidence": 0.8}]}`)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Source)
	assert.Equal(t, 0.8, got[0].Confidence)

	assert.Empty(t, ParseRelationsJSON("not json"))
	assert.Empty(t, ParseRelationsJSON(`{"relationships": [{"source": "", "target": "B"}]}`))
}

func TestExtractor_Extract(t *testing.T) {
	gen := &scriptedGenerator{
		responses: []string{
			`{"entities": [{"type": "TECHNOLOGY", "name": "PostgreSQL", "description": "DB"}, {"type": "TECHNOLOGY", "name": "pgvector"}]}`,
			`{"relationships": [{"source": "PostgreSQL", "target": "pgvector", "type": "USES", "confidence": 1.5}, {"source": "PostgreSQL", "target": "Redis", "type": "USES", "confidence": 0.9}]}`,
		},
	}
	e := New(gen, nil)

	chunkID := uuid.New()
	entities, relationships := e.Extract(context.Background(), chunkID, "PostgreSQLはpgvector拡張でベクトル検索を行う。")

	require.Len(t, entities, 2)
	assert.Equal(t, "PostgreSQL", entities[0].Name)
	assert.Equal(t, chunkID, entities[0].ChunkID)

	// 未抽出エンティティ（Redis）を参照する関係は除外され、
	// confidenceは[0,1]にクランプされる
	require.Len(t, relationships, 1)
	assert.Equal(t, "pgvector", relationships[0].TargetName)
	assert.Equal(t, 1.0, relationships[0].Confidence)
}

func TestExtractor_Extract_GeneratorError(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("api down")}}
	e := New(gen, nil)

	entities, relationships := e.Extract(context.Background(), uuid.New(), "some text")
	assert.Empty(t, entities)
	assert.Empty(t, relationships)
}

func TestExtractor_Extract_NoEntitiesSkipsRelations(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"entities": []}`}}
	e := New(gen, nil)

	entities, relationships := e.Extract(context.Background(), uuid.New(), "plain text")
	assert.Empty(t, entities)
	assert.Empty(t, relationships)
	// エンティティゼロなら関係抽出の呼び出しは行わない
	assert.Equal(t, 1, gen.calls)
}
