package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
)

const (
	extractTemperature = 0.0
	extractMaxTokens   = 1024
)

const entityPromptTemplate = `以下のテキストから固有表現（人物、組織、場所、技術、概念など）を抽出してください。

テキスト:
%s

次のJSON形式のみで回答してください:
{"entities": [{"type": "エンティティ種別", "name": "名前", "description": "短い説明"}]}

エンティティが見つからない場合は {"entities": []} と回答してください。`

const relationPromptTemplate = `以下のテキストに登場するエンティティ間の関係を抽出してください。
source と target には次のエンティティ名のみを使用してください: %s

テキスト:
%s

次のJSON形式のみで回答してください:
{"relationships": [{"source": "エンティティ名", "target": "エンティティ名", "type": "関係の種別", "confidence": 0.0から1.0}]}

関係が見つからない場合は {"relationships": []} と回答してください。`

// Extractor は生成サービスを使ってチャンクからエンティティと関係を
// 抽出します。抽出は回答生成の必須要素ではないベストエフォートの
// 強化であり、Extract は決して失敗しません。
type Extractor struct {
	generator llm.GenerationGateway
	logger    *slog.Logger
}

// New は新しいExtractorを作成します
func New(generator llm.GenerationGateway, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{generator: generator, logger: logger}
}

// Extract はチャンクテキストからエンティティと関係を抽出します。
// 内部エラーはログに記録して空のリストを返します。
func (e *Extractor) Extract(ctx context.Context, chunkID uuid.UUID, chunkText string) ([]models.Entity, []models.Relationship) {
	entities := e.extractEntities(ctx, chunkID, chunkText)
	if len(entities) == 0 {
		return nil, nil
	}

	relationships := e.extractRelationships(ctx, chunkID, chunkText, entities)
	return entities, relationships
}

func (e *Extractor) extractEntities(ctx context.Context, chunkID uuid.UUID, chunkText string) []models.Entity {
	resp, err := e.generator.StructuredComplete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(entityPromptTemplate, chunkText),
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
	})
	if err != nil {
		e.logger.Warn("エンティティ抽出に失敗しました。空のリストで続行します",
			"chunkID", chunkID, "error", err)
		return nil
	}

	parsed := ParseEntitiesJSON(resp.Content)
	entities := make([]models.Entity, 0, len(parsed))
	for _, p := range parsed {
		entities = append(entities, models.Entity{
			ID:          uuid.New(),
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			ChunkID:     chunkID,
		})
	}
	return entities
}

func (e *Extractor) extractRelationships(ctx context.Context, chunkID uuid.UUID, chunkText string, entities []models.Entity) []models.Relationship {
	names := make([]string, len(entities))
	known := make(map[string]bool, len(entities))
	for i, entity := range entities {
		names[i] = entity.Name
		known[strings.ToLower(entity.Name)] = true
	}

	resp, err := e.generator.StructuredComplete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(relationPromptTemplate, strings.Join(names, ", "), chunkText),
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
	})
	if err != nil {
		e.logger.Warn("関係抽出に失敗しました。空のリストで続行します",
			"chunkID", chunkID, "error", err)
		return nil
	}

	parsed := ParseRelationsJSON(resp.Content)
	relationships := make([]models.Relationship, 0, len(parsed))
	for _, p := range parsed {
		// 抽出済みエンティティ名を参照しない関係は捨てる
		if !known[strings.ToLower(p.Source)] || !known[strings.ToLower(p.Target)] {
			continue
		}
		confidence := p.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		relationships = append(relationships, models.Relationship{
			ID:         uuid.New(),
			SourceName: p.Source,
			TargetName: p.Target,
			Type:       p.Type,
			Confidence: confidence,
			ChunkID:    chunkID,
		})
	}
	return relationships
}

// ParsedEntity はモデル出力のエンティティ1件分です
type ParsedEntity struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ParsedRelation はモデル出力の関係1件分です
type ParsedRelation struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ParseEntitiesJSON はモデル出力を寛容にパースします。
// {"entities": [...]} 形式とトップレベル配列の両方を受け付け、
// 不正なJSONや未知の形には空のリストを返します（パースできなければ空）。
func ParseEntitiesJSON(content string) []ParsedEntity {
	cleaned := stripCodeFence(content)

	var wrapper struct {
		Entities []ParsedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil && wrapper.Entities != nil {
		return filterNamedEntities(wrapper.Entities)
	}

	var list []ParsedEntity
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return filterNamedEntities(list)
	}

	return nil
}

// ParseRelationsJSON はモデル出力を寛容にパースします。
// 形式は ParseEntitiesJSON と同様です。
func ParseRelationsJSON(content string) []ParsedRelation {
	cleaned := stripCodeFence(content)

	var wrapper struct {
		Relationships []ParsedRelation `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil && wrapper.Relationships != nil {
		return filterNamedRelations(wrapper.Relationships)
	}

	var list []ParsedRelation
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return filterNamedRelations(list)
	}

	return nil
}

func filterNamedEntities(entities []ParsedEntity) []ParsedEntity {
	result := entities[:0]
	for _, e := range entities {
		if strings.TrimSpace(e.Name) != "" {
			result = append(result, e)
		}
	}
	return result
}

func filterNamedRelations(relations []ParsedRelation) []ParsedRelation {
	result := relations[:0]
	for _, r := range relations {
		if strings.TrimSpace(r.Source) != "" && strings.TrimSpace(r.Target) != "" {
			result = append(result, r)
		}
	}
	return result
}

// stripCodeFence はモデルが付けがちなMarkdownコードフェンスを除去します
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
