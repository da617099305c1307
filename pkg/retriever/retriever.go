package retriever

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/models"
	"github.com/jinford/doc-rag/pkg/repository"
	"github.com/jinford/doc-rag/pkg/workerpool"
)

const (
	// DefaultTopK は検索結果のデフォルト件数
	DefaultTopK = 10

	// DefaultCandidateCeiling はリランク前に残す候補数の上限
	DefaultCandidateCeiling = 40

	// graphScoreBoost はグラフ検索スコアへの固定倍率。
	// エンティティ共起の一致は精度が高いため優遇する（上限1.0）
	graphScoreBoost = 1.2
)

// SearchOptions は検索のオプションです
type SearchOptions struct {
	TopK             int
	UseVector        bool
	UseKeyword       bool
	UseGraph         bool
	Rerank           bool
	CandidateCeiling int
}

// HybridRetriever はベクトル・キーワード・グラフの3手法を並行実行し、
// スコアを正規化・融合して重複のないランキングを返します
type HybridRetriever struct {
	storage  repository.StorageGateway
	embedder llm.EmbeddingGateway
	logger   *slog.Logger
}

// NewHybridRetriever は新しいHybridRetrieverを作成します
func NewHybridRetriever(storage repository.StorageGateway, embedder llm.EmbeddingGateway, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		storage:  storage,
		embedder: embedder,
		logger:   logger,
	}
}

// Search はハイブリッド検索を実行します。
//
// 各ブランチは topK*2 件を要求し（融合・重複排除での目減りに備えた
// 取りすぎ）、ブランチ単位の失敗はログに記録して他のブランチを継続
// します。有効なブランチが全滅した場合のみエラーを返します。
//
// スコアはブランチごとにmin-maxで[0,1]へ正規化し、同じチャンクが複数
// ブランチに現れた場合は最大値を採用します。同点はベクトル→キーワード
// →グラフの順で先に現れた方を優先します（決定性の保証）。
func (r *HybridRetriever) Search(ctx context.Context, namespace string, query *models.Query, opts SearchOptions) ([]models.RetrievedChunk, error) {
	if !opts.UseVector && !opts.UseKeyword && !opts.UseGraph {
		return nil, apperrors.New(apperrors.CodeValidation, "no search method enabled")
	}

	exists, err := r.storage.NamespaceExists(ctx, namespace)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSearch, err, "failed to check namespace %s", namespace)
	}
	if !exists {
		return nil, apperrors.New(apperrors.CodeNotFound, "namespace %s has no indexed documents", namespace)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	fetchLimit := topK * 2

	// ブランチの実行順とマージ順を固定するため、結果はソース別に持つ
	var vectorHits, keywordHits, graphHits []repository.SearchHit
	var tasks []workerpool.Task
	var enabled int

	if opts.UseVector {
		enabled++
		tasks = append(tasks, func(ctx context.Context) error {
			vectors, err := r.embedder.Embed(ctx, []string{query.Expanded})
			if err != nil {
				return err
			}
			if len(vectors) == 0 {
				return errors.New("embedding gateway returned no vector for query")
			}
			vectorHits, err = r.storage.VectorSearch(ctx, namespace, vectors[0], fetchLimit)
			return err
		})
	}
	if opts.UseKeyword {
		enabled++
		tasks = append(tasks, func(ctx context.Context) error {
			var err error
			keywordHits, err = r.storage.KeywordSearch(ctx, namespace, query.Keywords, fetchLimit)
			return err
		})
	}
	if opts.UseGraph {
		enabled++
		tasks = append(tasks, func(ctx context.Context) error {
			var err error
			graphHits, err = r.storage.GraphSearch(ctx, namespace, query.Keywords, fetchLimit)
			return err
		})
	}

	pool := workerpool.New(len(tasks), 0)
	errs := pool.Run(ctx, tasks)

	failed := 0
	for _, branchErr := range errs {
		if branchErr != nil {
			failed++
			r.logger.Warn("search branch failed", "namespace", namespace, "error", branchErr)
		}
	}
	if failed == enabled {
		return nil, apperrors.Wrap(apperrors.CodeSearch, errors.Join(errs...), "all enabled search branches failed")
	}

	// ソース別に正規化してからベクトル→キーワード→グラフの順で融合
	fused := newFusionSet()
	fused.add(normalizeHits(vectorHits), models.SearchSourceVector, 1.0)
	fused.add(normalizeHits(keywordHits), models.SearchSourceKeyword, 1.0)
	fused.add(normalizeHits(graphHits), models.SearchSourceGraph, graphScoreBoost)

	results := fused.ranked()

	ceiling := opts.CandidateCeiling
	if ceiling <= 0 {
		ceiling = DefaultCandidateCeiling
	}
	if ceiling < topK {
		ceiling = topK
	}
	if len(results) > ceiling {
		results = results[:ceiling]
	}
	if !opts.Rerank && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// normalizeHits はブランチ内のスコアをmin-maxで[0,1]に正規化します。
// スコア範囲が退化している場合（1件のみ、全件同値）は1.0を割り当てます。
func normalizeHits(hits []repository.SearchHit) []models.RetrievedChunk {
	if len(hits) == 0 {
		return nil
	}

	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < minScore {
			minScore = hit.Score
		}
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	scoreRange := maxScore - minScore
	chunks := make([]models.RetrievedChunk, len(hits))
	for i, hit := range hits {
		score := 1.0
		if scoreRange > 0 {
			score = (hit.Score - minScore) / scoreRange
		}
		chunks[i] = models.RetrievedChunk{
			ChunkID:  hit.ChunkID,
			Content:  hit.Content,
			Score:    score,
			Metadata: hit.Metadata,
		}
	}
	return chunks
}

// fusionSet はチャンクID単位の重複排除と最大スコア融合を行います
type fusionSet struct {
	order []models.RetrievedChunk
	byID  map[string]int
}

func newFusionSet() *fusionSet {
	return &fusionSet{byID: make(map[string]int)}
}

func (f *fusionSet) add(chunks []models.RetrievedChunk, src models.SearchSource, boost float64) {
	for _, chunk := range chunks {
		score := chunk.Score * boost
		if score > 1.0 {
			score = 1.0
		}

		key := chunk.ChunkID.String()
		if idx, ok := f.byID[key]; ok {
			// 既出のチャンクはより高いスコアのみ採用（ソースは先勝ち）
			if score > f.order[idx].Score {
				f.order[idx].Score = score
			}
			continue
		}

		chunk.Score = score
		chunk.Source = src
		f.byID[key] = len(f.order)
		f.order = append(f.order, chunk)
	}
}

// ranked はスコア降順（同点は先に追加された順）のランキングを返します
func (f *fusionSet) ranked() []models.RetrievedChunk {
	results := make([]models.RetrievedChunk, len(f.order))
	copy(results, f.order)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
