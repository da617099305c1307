package models

import (
	"time"

	"github.com/google/uuid"
)

// SearchSource は検索結果を生成した検索手法
type SearchSource string

const (
	SearchSourceVector  SearchSource = "vector"
	SearchSourceKeyword SearchSource = "keyword"
	SearchSourceGraph   SearchSource = "graph"
)

// Query は前処理済みの検索クエリを表します
type Query struct {
	Original string
	Expanded string // 拡張無効時は Original と同じ
	Keywords []string
}

// RetrievedChunk は検索で取得されたチャンクを表します。
// Score は手法ごとに [0,1] へ正規化された値です。
type RetrievedChunk struct {
	ChunkID  uuid.UUID
	Content  string
	Score    float64
	Source   SearchSource
	Metadata map[string]string
}

// Citation は生成テキスト中の引用マーカーと出典チャンクの対応を表します
type Citation struct {
	Index   int // 生成テキスト中の [n] に対応する 1 始まりの番号
	ChunkID uuid.UUID
	Excerpt string
	Source  string
}

// GeneratedResponse は根拠付きの生成回答を表します
type GeneratedResponse struct {
	Answer     string
	Citations  []Citation
	Confidence float64
	Duration   time.Duration
}

// ConversationTurn は会話の 1 ターン（質問と回答の組）
type ConversationTurn struct {
	Query    Query
	Response GeneratedResponse
}

// ConversationContext はセッションをまたぐ会話状態を保持します
type ConversationContext struct {
	SessionID uuid.UUID
	Turns     []ConversationTurn
	Context   map[string]string
}

// NewConversationContext は新しい会話コンテキストを作成します
func NewConversationContext() *ConversationContext {
	return &ConversationContext{
		SessionID: uuid.New(),
		Context:   make(map[string]string),
	}
}
