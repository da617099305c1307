package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
)

const rerankPromptTemplate = `質問に対する各文書の関連度を0.0から1.0で採点してください。

質問: %s

文書:
%s

次のJSON形式のみで回答してください:
{"scores": [{"index": 1, "score": 0.0}]}`

// rerankExcerptLimit は採点プロンプトに載せる文書抜粋の最大文字数
const rerankExcerptLimit = 500

// Reranker は生成サービスによる関連度採点で候補を並べ替えます。
// リランクは最適化であり、失敗した場合は入力順をそのまま使います。
type Reranker struct {
	generator llm.GenerationGateway
	logger    *slog.Logger
}

// NewReranker は新しいRerankerを作成します
func NewReranker(generator llm.GenerationGateway, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{generator: generator, logger: logger}
}

// Rerank は候補を関連度順に並べ替えてtopK件を返します。
// 採点呼び出しや応答のパースに失敗した場合は入力順をtopKに切り詰めて
// 返し、エラーは伝播しません。融合済みスコアは変更しません。
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []models.RetrievedChunk, topK int) []models.RetrievedChunk {
	if len(candidates) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(candidates) == 1 {
		return truncate(candidates, topK)
	}

	scores, ok := r.scoreCandidates(ctx, question, candidates)
	if !ok {
		return truncate(candidates, topK)
	}

	reordered := make([]models.RetrievedChunk, len(candidates))
	copy(reordered, candidates)
	sort.SliceStable(reordered, func(i, j int) bool {
		return scores[reordered[i].ChunkID.String()] > scores[reordered[j].ChunkID.String()]
	})
	return truncate(reordered, topK)
}

// scoreCandidates は全候補を1回の生成呼び出しで採点します
func (r *Reranker) scoreCandidates(ctx context.Context, question string, candidates []models.RetrievedChunk) (map[string]float64, bool) {
	var sb strings.Builder
	for i, candidate := range candidates {
		excerpt := candidate.Content
		if runes := []rune(excerpt); len(runes) > rerankExcerptLimit {
			excerpt = string(runes[:rerankExcerptLimit])
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, excerpt)
	}

	resp, err := r.generator.StructuredComplete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(rerankPromptTemplate, question, sb.String()),
		Temperature: 0.0,
		MaxTokens:   1024,
	})
	if err != nil {
		r.logger.Warn("rerank scoring failed, keeping fused order", "error", err)
		return nil, false
	}

	var parsed struct {
		Scores []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil || len(parsed.Scores) == 0 {
		r.logger.Warn("rerank scoring returned malformed JSON, keeping fused order", "error", err)
		return nil, false
	}

	scores := make(map[string]float64, len(candidates))
	for _, s := range parsed.Scores {
		if s.Index < 1 || s.Index > len(candidates) {
			continue
		}
		scores[candidates[s.Index-1].ChunkID.String()] = s.Score
	}
	return scores, true
}

func truncate(chunks []models.RetrievedChunk, topK int) []models.RetrievedChunk {
	if len(chunks) > topK {
		return chunks[:topK]
	}
	return chunks
}
