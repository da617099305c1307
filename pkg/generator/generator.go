package generator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
)

const (
	// DefaultPromptTokenBudget はプロンプト全体のトークン数上限
	DefaultPromptTokenBudget = 6000

	// citationExcerptLimit は引用として記録する抜粋の最大文字数
	citationExcerptLimit = 100

	// defaultConfidence は引用マーカーが1つもない回答の信頼度
	defaultConfidence = 0.5
)

// ErrEmptyContext はコンテキストなしで生成が呼ばれたことを表します。
// 呼び出し側は検索結果ゼロを事前に判定し、生成をスキップする必要があります。
var ErrEmptyContext = apperrors.New(apperrors.CodeValidation, "context chunks must not be empty")

// citationPattern は生成テキスト中の引用マーカー [n] を抽出します
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

const answerPromptTemplate = `あなたはドキュメントに基づいて質問に回答するアシスタントです。
以下のコンテキストのみを根拠として回答してください。

ルール:
- 回答の根拠となる箇所には、対応するコンテキスト番号を [1] のような形式で引用してください
- コンテキストに十分な情報がない場合は、推測せずに「提供された情報では回答できません」と明示してください

コンテキスト:
%s

質問: %s

回答:`

// Options は回答生成のオプションです
type Options struct {
	Temperature       float64
	MaxTokens         int
	PromptTokenBudget int
}

// Generator はコンテキストに根拠付けられた回答を生成します
type Generator struct {
	generator llm.GenerationGateway
	encoder   *tiktoken.Tiktoken
	opts      Options
	logger    *slog.Logger
}

// New は新しいGeneratorを作成します
func New(gen llm.GenerationGateway, opts Options, logger *slog.Logger) (*Generator, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	if opts.PromptTokenBudget <= 0 {
		opts.PromptTokenBudget = DefaultPromptTokenBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		generator: gen,
		encoder:   encoder,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Generate は質問とコンテキストから引用付きの回答を生成します。
// コンテキストが空の場合は ErrEmptyContext で失敗します。
func (g *Generator) Generate(ctx context.Context, question string, contextChunks []models.RetrievedChunk) (*models.GeneratedResponse, error) {
	if len(contextChunks) == 0 {
		return nil, ErrEmptyContext
	}

	startTime := time.Now()

	trimmed := g.fitToBudget(question, contextChunks)
	prompt := buildPrompt(question, trimmed)

	resp, err := g.generator.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeGeneration, err, "failed to generate answer")
	}

	citations := parseCitations(resp.Content, trimmed)

	confidence := defaultConfidence
	if len(citations) > 0 {
		confidence = float64(len(citations)) / float64(len(trimmed))
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	return &models.GeneratedResponse{
		Answer:     resp.Content,
		Citations:  citations,
		Confidence: confidence,
		Duration:   time.Since(startTime),
	}, nil
}

// fitToBudget はプロンプトのトークン数上限に収まるよう末尾のチャンクを
// 削ります。少なくとも1チャンクは必ず残します。
func (g *Generator) fitToBudget(question string, contextChunks []models.RetrievedChunk) []models.RetrievedChunk {
	for count := len(contextChunks); count > 1; count-- {
		prompt := buildPrompt(question, contextChunks[:count])
		if len(g.encoder.Encode(prompt, nil, nil)) <= g.opts.PromptTokenBudget {
			return contextChunks[:count]
		}
		g.logger.Debug("dropping trailing context chunk to fit prompt budget", "remaining", count-1)
	}
	return contextChunks[:1]
}

// buildPrompt はコンテキストを [1]..[n] で番号付けしたプロンプトを作ります
func buildPrompt(question string, contextChunks []models.RetrievedChunk) string {
	var sb strings.Builder
	for i, chunk := range contextChunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, chunk.Content)
	}
	return fmt.Sprintf(answerPromptTemplate, sb.String(), question)
}

// parseCitations は生成テキストから引用マーカーを抽出します。
// 同じ番号は初出のみ採用し、コンテキスト範囲外の番号は黙って捨てます。
func parseCitations(answer string, contextChunks []models.RetrievedChunk) []models.Citation {
	var citations []models.Citation
	seen := make(map[int]bool)

	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil || seen[index] {
			continue
		}
		if index < 1 || index > len(contextChunks) {
			continue
		}
		seen[index] = true

		chunk := contextChunks[index-1]
		excerpt := chunk.Content
		if runes := []rune(excerpt); len(runes) > citationExcerptLimit {
			excerpt = string(runes[:citationExcerptLimit])
		}
		citations = append(citations, models.Citation{
			Index:   index,
			ChunkID: chunk.ChunkID,
			Excerpt: excerpt,
			Source:  string(chunk.Source),
		})
	}
	return citations
}
