package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/generator"
	"github.com/jinford/doc-rag/pkg/models"
	"github.com/jinford/doc-rag/pkg/repository"
	"github.com/jinford/doc-rag/pkg/retriever"
)

const (
	// maxConversationTurns は保持する会話ターン数の上限
	maxConversationTurns = 10

	// insufficientInfoAnswer は検索結果が空のときの固定回答
	insufficientInfoAnswer = "提供された情報では回答できません。関連するドキュメントが見つかりませんでした。"

	// degradedAnswer は生成失敗時の固定回答
	degradedAnswer = "申し訳ありません。回答の生成中に問題が発生しました。もう一度お試しください。"
)

// Orchestrator は前処理→検索→リランク→生成のパイプラインを束ね、
// 会話コンテキストをターン間で引き継ぎます
type Orchestrator struct {
	preprocessor *retriever.Preprocessor
	retriever    *retriever.HybridRetriever
	reranker     *retriever.Reranker
	generator    *generator.Generator
	storage      repository.StorageGateway
	searchOpts   retriever.SearchOptions
	logger       *slog.Logger
}

// NewOrchestrator は新しいOrchestratorを作成します
func NewOrchestrator(
	preprocessor *retriever.Preprocessor,
	hybridRetriever *retriever.HybridRetriever,
	reranker *retriever.Reranker,
	gen *generator.Generator,
	storage repository.StorageGateway,
	searchOpts retriever.SearchOptions,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		preprocessor: preprocessor,
		retriever:    hybridRetriever,
		reranker:     reranker,
		generator:    gen,
		storage:      storage,
		searchOpts:   searchOpts,
		logger:       logger,
	}
}

// Chat は1ターン分の質問応答を実行します。conversation が nil の場合は
// 新しい会話コンテキストを作成します。検索結果ゼロは固定回答への
// ショートサーキット、生成失敗は劣化回答への変換で処理し、会話が
// 1ターンの失敗で途切れないようにします。
func (o *Orchestrator) Chat(ctx context.Context, namespace, question string, conversation *models.ConversationContext) (*models.GeneratedResponse, *models.ConversationContext, error) {
	if conversation == nil {
		conversation = models.NewConversationContext()
	}

	query, err := o.preprocessor.Process(ctx, question)
	if err != nil {
		return nil, conversation, err
	}

	candidates, err := o.retriever.Search(ctx, namespace, query, o.searchOpts)
	if err != nil {
		return nil, conversation, err
	}

	var response *models.GeneratedResponse
	if len(candidates) == 0 {
		// 生成に回さず固定回答を返す（引用ゼロ）
		response = &models.GeneratedResponse{
			Answer:     insufficientInfoAnswer,
			Confidence: 0,
		}
	} else {
		topK := o.searchOpts.TopK
		if o.searchOpts.Rerank {
			candidates = o.reranker.Rerank(ctx, query.Original, candidates, topK)
		} else if topK > 0 && len(candidates) > topK {
			candidates = candidates[:topK]
		}

		candidates = o.expandContext(ctx, candidates)

		response, err = o.generator.Generate(ctx, query.Original, candidates)
		if err != nil {
			o.logger.Error("answer generation failed, returning degraded response",
				"namespace", namespace, "sessionID", conversation.SessionID, "error", err)
			response = &models.GeneratedResponse{
				Answer:     degradedAnswer,
				Confidence: 0,
			}
		}
	}

	o.appendTurn(conversation, query, response)
	return response, conversation, nil
}

// expandContext は子チャンクを親チャンク（Small-to-Big）に置き換えて
// 生成コンテキストを広げます。同じ親は1回だけ使い、親の取得に失敗した
// チャンクは子のまま残します。
func (o *Orchestrator) expandContext(ctx context.Context, candidates []models.RetrievedChunk) []models.RetrievedChunk {
	seenParents := make(map[uuid.UUID]bool)
	expanded := make([]models.RetrievedChunk, 0, len(candidates))

	for _, candidate := range candidates {
		parent, err := o.storage.GetParentChunk(ctx, candidate.ChunkID)
		if err != nil {
			o.logger.Warn("failed to load parent chunk", "chunkID", candidate.ChunkID, "error", err)
			expanded = append(expanded, candidate)
			continue
		}
		if parent == nil {
			expanded = append(expanded, candidate)
			continue
		}
		if seenParents[parent.ID] {
			continue
		}
		seenParents[parent.ID] = true

		candidate.Content = parent.Content
		expanded = append(expanded, candidate)
	}
	return expanded
}

// appendTurn は会話にターンを追加し、直近の要約をコンテキストマップへ
// 追記します。ウィンドウを超えた古いターンは捨てます。
func (o *Orchestrator) appendTurn(conversation *models.ConversationContext, query *models.Query, response *models.GeneratedResponse) {
	conversation.Turns = append(conversation.Turns, models.ConversationTurn{
		Query:    *query,
		Response: *response,
	})
	if len(conversation.Turns) > maxConversationTurns {
		conversation.Turns = conversation.Turns[len(conversation.Turns)-maxConversationTurns:]
	}

	if conversation.Context == nil {
		conversation.Context = make(map[string]string)
	}
	conversation.Context["last_question"] = query.Original
	conversation.Context["last_answer_chars"] = fmt.Sprintf("%d", len([]rune(response.Answer)))
}
