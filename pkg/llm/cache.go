package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder は内容アドレス方式（テキストのSHA-256をキー）で
// Embeddingをキャッシュするデコレータです。同一テキストに対する
// 繰り返し呼び出しを短絡します。lru.Cacheはロックを内蔵しており
// 並行アクセスに対して安全です。
type CachedEmbedder struct {
	inner EmbeddingGateway
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder はキャッシュ付きのEmbeddingGatewayを作成します
func NewCachedEmbedder(inner EmbeddingGateway, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed はキャッシュ済みのテキストを除いた残りだけを内側のゲートウェイに
// 問い合わせ、結果を元の順序で返します
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIndexes []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(contentKey(text)); ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(missTexts), len(embedded))
	}

	for i, vec := range embedded {
		idx := missIndexes[i]
		results[idx] = vec
		c.cache.Add(contentKey(missTexts[i]), vec)
	}

	return results, nil
}

func contentKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

var _ EmbeddingGateway = (*CachedEmbedder)(nil)
