package llm

import "context"

// EmbeddingGateway はテキストを固定長ベクトルに変換する外部サービスの契約
type EmbeddingGateway interface {
	// Embed はテキスト列のEmbeddingをバッチで生成します
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationGateway はテキスト生成サービスの契約
type GenerationGateway interface {
	// Complete はプロンプトに基づいて応答を生成します
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// StructuredComplete はJSON形式の応答を要求して生成します。
	// 返却値がパース可能なJSONである保証はゲートウェイ側にはなく、
	// 呼び出し側が検証する必要があります。
	StructuredComplete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest は生成サービスへのリクエストパラメータ
type CompletionRequest struct {
	// Prompt は送信するプロンプト
	Prompt string

	// Temperature は生成の多様性を制御する (0.0-2.0)
	Temperature float64

	// MaxTokens は生成する最大トークン数
	MaxTokens int
}

// CompletionResponse は生成サービスからのレスポンス
type CompletionResponse struct {
	// Content は生成されたテキスト
	Content string

	// TokensUsed は使用されたトークン数
	TokensUsed int

	// Model は実際に使用されたモデル名
	Model string
}
