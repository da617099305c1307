package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jinford/doc-rag/pkg/apperrors"
)

// RateLimiter は外部API呼び出し全体を保護するトークンバケットです。
// プロセス全体で1つのインスタンスを共有します。
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter は秒あたりのリクエスト数とバーストサイズを指定して
// RateLimiterを作成します
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Acquire はトークンを1つ消費します。トークンが枯渇している場合は
// ブロックせず RATE_LIMITED エラーを返し、呼び出し側が待機・リトライを
// 選択できるようにします。
func (r *RateLimiter) Acquire() error {
	if !r.limiter.Allow() {
		return apperrors.New(apperrors.CodeRateLimit, "outbound API rate limit exceeded")
	}
	return nil
}

// LimitedEmbedder はEmbedding呼び出しの前にレート制限を確認するデコレータ
type LimitedEmbedder struct {
	inner   EmbeddingGateway
	limiter *RateLimiter
}

// NewLimitedEmbedder はレート制限付きのEmbeddingGatewayを作成します
func NewLimitedEmbedder(inner EmbeddingGateway, limiter *RateLimiter) *LimitedEmbedder {
	return &LimitedEmbedder{inner: inner, limiter: limiter}
}

// Embed はレート制限を確認してからEmbeddingを生成します
func (l *LimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Acquire(); err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, texts)
}

// LimitedGenerator は生成呼び出しの前にレート制限を確認するデコレータ
type LimitedGenerator struct {
	inner   GenerationGateway
	limiter *RateLimiter
}

// NewLimitedGenerator はレート制限付きのGenerationGatewayを作成します
func NewLimitedGenerator(inner GenerationGateway, limiter *RateLimiter) *LimitedGenerator {
	return &LimitedGenerator{inner: inner, limiter: limiter}
}

// Complete はレート制限を確認してから応答を生成します
func (l *LimitedGenerator) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := l.limiter.Acquire(); err != nil {
		return CompletionResponse{}, err
	}
	return l.inner.Complete(ctx, req)
}

// StructuredComplete はレート制限を確認してからJSON応答を生成します
func (l *LimitedGenerator) StructuredComplete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := l.limiter.Acquire(); err != nil {
		return CompletionResponse{}, err
	}
	return l.inner.StructuredComplete(ctx, req)
}

var (
	_ EmbeddingGateway  = (*LimitedEmbedder)(nil)
	_ GenerationGateway = (*LimitedGenerator)(nil)
)
