package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/cmd/doc-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "doc-rag",
		Usage: "ドキュメント向けハイブリッドRAG検索・質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "ローカルパスまたはGitリポジトリをインデックス化",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "namespace",
						Usage:    "名前空間（ドキュメントのグループ名）",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "source",
						Usage:    "ファイルパス、ディレクトリパス、またはGitリポジトリURL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "ref",
						Usage: "Gitのブランチ名またはタグ名（Gitソースのみ）",
					},
				},
				Action: commands.IndexAction,
			},
			{
				Name:  "search",
				Usage: "ハイブリッド検索を実行",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "namespace",
						Usage:    "名前空間",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "question",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "取得件数（省略時は設定値）",
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "chat",
				Usage: "ドキュメントへの質問応答（--question省略で対話モード）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "namespace",
						Usage:    "名前空間",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "question",
						Usage: "質問（省略時は対話モード）",
					},
				},
				Action: commands.ChatAction,
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "ドキュメント一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "namespace",
								Usage:    "名前空間",
								Required: true,
							},
						},
						Action: commands.DocumentListAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
