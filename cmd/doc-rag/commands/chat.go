package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/models"
)

// ChatAction は質問応答を実行する。--question 指定時は1回だけ回答し、
// 未指定時は対話モードで会話コンテキストを引き継ぎながら応答する
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	namespace := cmd.String("namespace")
	question := cmd.String("question")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if question != "" {
		response, _, err := appCtx.Orchestrator.Chat(ctx, namespace, question, nil)
		if err != nil {
			return ExitCoded(err)
		}
		printResponse(response)
		return nil
	}

	return runInteractive(ctx, appCtx, namespace)
}

// runInteractive は対話モードのループを実行する
func runInteractive(ctx context.Context, appCtx *AppContext, namespace string) error {
	fmt.Printf("名前空間 %s への質問を入力してください（exit で終了）\n", namespace)

	var conversation *models.ConversationContext
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			break
		}

		response, updated, err := appCtx.Orchestrator.Chat(ctx, namespace, question, conversation)
		if err != nil {
			// 1回の失敗で対話を終わらせず、コードとメッセージだけ表示する
			fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
			continue
		}
		conversation = updated
		printResponse(response)
	}
	return scanner.Err()
}

// printResponse は回答と引用を表示する
func printResponse(response *models.GeneratedResponse) {
	fmt.Println(response.Answer)
	fmt.Println()
	if len(response.Citations) > 0 {
		fmt.Println("出典:")
		for _, citation := range response.Citations {
			fmt.Printf("  [%d] %s (%s)\n", citation.Index, citation.Excerpt, citation.ChunkID)
		}
	}
	fmt.Printf("信頼度: %.2f / 所要時間: %s\n", response.Confidence, response.Duration)
}
