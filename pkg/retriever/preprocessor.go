package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
)

const expandPromptTemplate = `以下の質問を検索に適した形に言い換え、検索キーワードを抽出してください。

質問: %s

次のJSON形式のみで回答してください:
{"expanded_query": "言い換えた質問", "keywords": ["キーワード1", "キーワード2"]}`

// stopWords はキーワード抽出で除外する機能語です
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "do": true,
	"does": true, "did": true, "have": true, "has": true, "had": true,
	"what": true, "which": true, "who": true, "whom": true, "when": true,
	"where": true, "why": true, "how": true, "and": true, "or": true,
	"but": true, "not": true, "no": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "from": true,
	"with": true, "about": true, "into": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true,
	"can": true, "could": true, "will": true, "would": true,
	"should": true, "please": true, "tell": true, "me": true,
}

// Preprocessor は質問文を検索用のクエリに変換します
type Preprocessor struct {
	generator   llm.GenerationGateway // ExpandQuery無効時はnilでよい
	expandQuery bool
	logger      *slog.Logger
}

// NewPreprocessor は新しいPreprocessorを作成します
func NewPreprocessor(generator llm.GenerationGateway, expandQuery bool, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		generator:   generator,
		expandQuery: expandQuery,
		logger:      logger,
	}
}

// Process は質問文からQueryを作成します。クエリ拡張が無効、または
// 拡張に失敗した場合、Expandedは元の質問文のままです。
func (p *Preprocessor) Process(ctx context.Context, question string) (*models.Query, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "question must not be empty")
	}

	query := &models.Query{
		Original: question,
		Expanded: question,
		Keywords: extractKeywords(question),
	}

	if !p.expandQuery || p.generator == nil {
		return query, nil
	}

	resp, err := p.generator.StructuredComplete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(expandPromptTemplate, question),
		Temperature: 0.0,
		MaxTokens:   256,
	})
	if err != nil {
		// 拡張はベストエフォート。失敗しても元のクエリで続行する
		p.logger.Warn("query expansion failed, using original question", "error", err)
		return query, nil
	}

	var parsed struct {
		ExpandedQuery string   `json:"expanded_query"`
		Keywords      []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		p.logger.Warn("query expansion returned malformed JSON, using original question", "error", err)
		return query, nil
	}

	if strings.TrimSpace(parsed.ExpandedQuery) != "" {
		query.Expanded = parsed.ExpandedQuery
	}
	for _, keyword := range parsed.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword != "" && !containsFold(query.Keywords, keyword) {
			query.Keywords = append(query.Keywords, keyword)
		}
	}
	return query, nil
}

// extractKeywords は質問文からストップワードを除いた語を抽出します
func extractKeywords(question string) []string {
	tokens := strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var keywords []string
	for _, token := range tokens {
		if len([]rune(token)) < 2 {
			continue
		}
		if stopWords[strings.ToLower(token)] {
			continue
		}
		if !containsFold(keywords, token) {
			keywords = append(keywords, token)
		}
	}
	return keywords
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
