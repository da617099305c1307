package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus はドキュメントのインデックス処理状態
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document はインデックス対象のドキュメントを表します。
// completed になった後はステータス遷移以外は不変です。
type Document struct {
	ID         uuid.UUID
	Namespace  string
	SourceName string
	ChunkCount int
	Status     DocumentStatus
	CreatedAt  time.Time
}

// Chunk はドキュメントの分割単位を表します
type Chunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Content     string
	Position    int // ドキュメント内の 0 始まりの連番
	CharOffset  int // 元テキスト内の開始オフセット
	ParentID    *uuid.UUID
	Embedding   []float32
	TokenCount  int
	ContentHash string
	Metadata    map[string]string
}
