package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/indexer/source"
)

// IndexAction はローカルパスまたはGitリポジトリをインデックス化する
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	namespace := cmd.String("namespace")
	src := cmd.String("source")
	ref := cmd.String("ref")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	prov := selectProvider(src)
	appCtx.Logger.Info("インデックス処理を開始",
		"namespace", namespace,
		"source", src,
		"sourceType", prov.Type(),
	)

	result, err := appCtx.Indexer.IndexSource(ctx, prov, src, namespace, source.FetchOptions{Ref: ref})
	if err != nil {
		return ExitCoded(err)
	}

	fmt.Printf("インデックス化が完了しました\n")
	fmt.Printf("  処理ドキュメント数: %d\n", result.ProcessedDocuments)
	fmt.Printf("  失敗ドキュメント数: %d\n", result.FailedDocuments)
	fmt.Printf("  チャンク数:         %d\n", result.TotalChunks)
	fmt.Printf("  バージョン:         %s\n", result.VersionIdentifier)
	fmt.Printf("  所要時間:           %s\n", result.Duration)
	return nil
}

// selectProvider はソース識別子からプロバイダーを選択する。
// ローカルに存在するパスならローカル、それ以外はGit URLとして扱う。
func selectProvider(identifier string) source.Provider {
	if _, err := os.Stat(identifier); err == nil {
		return source.NewLocalProvider()
	}
	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") ||
		strings.HasPrefix(identifier, "git@") || strings.HasSuffix(identifier, ".git") {
		return source.NewGitProvider(gitCloneBaseDir(), "main")
	}
	return source.NewLocalProvider()
}

func gitCloneBaseDir() string {
	if dir := os.Getenv("GIT_CLONE_BASE_DIR"); dir != "" {
		return dir
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "/tmp/doc-rag/repos"
	}
	return cacheDir + "/doc-rag/repos"
}
