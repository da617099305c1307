package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// DocumentListAction は名前空間内のドキュメント一覧を表示する
func DocumentListAction(ctx context.Context, cmd *cli.Command) error {
	namespace := cmd.String("namespace")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	docs, err := appCtx.Storage.ListDocuments(ctx, namespace)
	if err != nil {
		return ExitCoded(err)
	}

	if len(docs) == 0 {
		fmt.Printf("名前空間 %s にドキュメントはありません\n", namespace)
		return nil
	}

	fmt.Printf("%-36s  %-10s  %7s  %-20s  %s\n", "ID", "STATUS", "CHUNKS", "CREATED", "SOURCE")
	for _, doc := range docs {
		fmt.Printf("%-36s  %-10s  %7d  %-20s  %s\n",
			doc.ID,
			doc.Status,
			doc.ChunkCount,
			doc.CreatedAt.Format("2006-01-02 15:04:05"),
			doc.SourceName,
		)
	}
	return nil
}
