package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/retriever"
)

// SearchAction はハイブリッド検索を実行して結果を表示する
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	namespace := cmd.String("namespace")
	question := cmd.String("question")
	topK := int(cmd.Int("top-k"))
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	preprocessor := retriever.NewPreprocessor(appCtx.Generator, appCtx.Config.Search.ExpandQuery, appCtx.Logger)
	query, err := preprocessor.Process(ctx, question)
	if err != nil {
		return ExitCoded(err)
	}

	opts := searchOptions(appCtx.Config)
	opts.Rerank = false // 検索コマンドは融合スコア順をそのまま表示する
	if topK > 0 {
		opts.TopK = topK
	}

	hybridRetriever := retriever.NewHybridRetriever(appCtx.Storage, appCtx.Embedder, appCtx.Logger)
	results, err := hybridRetriever.Search(ctx, namespace, query, opts)
	if err != nil {
		return ExitCoded(err)
	}

	if len(results) == 0 {
		fmt.Println("該当するチャンクが見つかりませんでした")
		return nil
	}

	fmt.Printf("%d件のチャンクが見つかりました\n\n", len(results))
	for i, result := range results {
		fmt.Printf("--- [%d] score=%.3f source=%s chunk=%s\n", i+1, result.Score, result.Source, result.ChunkID)
		fmt.Println(excerpt(result.Content, 200))
		fmt.Println()
	}
	return nil
}

// excerpt は表示用にテキストを切り詰める
func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
