package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/apperrors"
	"github.com/jinford/doc-rag/pkg/chat"
	"github.com/jinford/doc-rag/pkg/chunker"
	"github.com/jinford/doc-rag/pkg/config"
	"github.com/jinford/doc-rag/pkg/db"
	"github.com/jinford/doc-rag/pkg/extractor"
	"github.com/jinford/doc-rag/pkg/generator"
	"github.com/jinford/doc-rag/pkg/indexer"
	"github.com/jinford/doc-rag/pkg/llm"
	"github.com/jinford/doc-rag/pkg/logger"
	"github.com/jinford/doc-rag/pkg/repository"
	"github.com/jinford/doc-rag/pkg/retriever"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config       *config.Config
	Database     *db.DB
	Storage      *repository.PostgresStorage
	Embedder     llm.EmbeddingGateway
	Generator    llm.GenerationGateway
	Indexer      *indexer.Indexer
	Orchestrator *chat.Orchestrator
	Logger       *slog.Logger
}

// NewAppContext は設定を読み込み、DBに接続して全コンポーネントを組み立てる
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	storage := repository.NewPostgresStorage(database)
	if err := storage.Migrate(ctx, cfg.OpenAI.EmbeddingDimension); err != nil {
		database.Close()
		return nil, fmt.Errorf("スキーマの初期化に失敗: %w", err)
	}

	// 外部API呼び出しはプロセス全体で1つのレート制限を共有する
	limiter := llm.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)

	openaiEmbedder, err := llm.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimension)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Embedder初期化に失敗: %w", err)
	}
	var embedder llm.EmbeddingGateway = llm.NewLimitedEmbedder(openaiEmbedder, limiter)
	if cfg.EmbeddingCacheSize > 0 {
		embedder, err = llm.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("Embeddingキャッシュ初期化に失敗: %w", err)
		}
	}

	openaiClient, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.LLMModel)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("生成クライアント初期化に失敗: %w", err)
	}
	var genGateway llm.GenerationGateway = llm.NewLimitedGenerator(openaiClient, limiter)

	chunkr, err := chunker.New()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Chunker初期化に失敗: %w", err)
	}

	var ext indexer.EntityExtractor
	if cfg.Indexing.ExtractEntities {
		ext = extractor.New(genGateway, appLogger)
	}

	idx := indexer.NewIndexer(storage, embedder, ext, chunkr, cfg.Indexing, appLogger)

	answerGen, err := generator.New(genGateway, generator.Options{
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, appLogger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Generator初期化に失敗: %w", err)
	}

	orchestrator := chat.NewOrchestrator(
		retriever.NewPreprocessor(genGateway, cfg.Search.ExpandQuery, appLogger),
		retriever.NewHybridRetriever(storage, embedder, appLogger),
		retriever.NewReranker(genGateway, appLogger),
		answerGen,
		storage,
		searchOptions(cfg),
		appLogger,
	)

	return &AppContext{
		Config:       cfg,
		Database:     database,
		Storage:      storage,
		Embedder:     embedder,
		Generator:    genGateway,
		Indexer:      idx,
		Orchestrator: orchestrator,
		Logger:       appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// searchOptions は設定から検索オプションを組み立てる
func searchOptions(cfg *config.Config) retriever.SearchOptions {
	return retriever.SearchOptions{
		TopK:             cfg.Search.TopK,
		UseVector:        cfg.Search.UseVector,
		UseKeyword:       cfg.Search.UseKeyword,
		UseGraph:         cfg.Search.UseGraph,
		Rerank:           cfg.Search.Rerank,
		CandidateCeiling: cfg.Search.CandidateCeiling,
	}
}

// ExitCoded はエラーコード付きでCLIを終了させるエラーに変換する。
// 終了コード: 検証エラー=2, 対象なし=3, レート制限=4, その他=1
func ExitCoded(err error) error {
	if err == nil {
		return nil
	}

	code := apperrors.CodeOf(err)
	exitCode := 1
	switch code {
	case apperrors.CodeValidation:
		exitCode = 2
	case apperrors.CodeNotFound:
		exitCode = 3
	case apperrors.CodeRateLimit:
		exitCode = 4
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return cli.Exit(fmt.Sprintf("%s: %s", appErr.Code, appErr.Message), exitCode)
	}
	return cli.Exit(err.Error(), exitCode)
}
