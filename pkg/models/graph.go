package models

import "github.com/google/uuid"

// Entity はチャンクから抽出された固有表現を表します
type Entity struct {
	ID          uuid.UUID
	Name        string
	Type        string
	Description string
	ChunkID     uuid.UUID
}

// Relationship は抽出済みエンティティ間の関係を表します。
// Source/Target は同一チャンク（または共起チャンク）から抽出された
// エンティティ名を参照しなければなりません。
type Relationship struct {
	ID         uuid.UUID
	SourceName string
	TargetName string
	Type       string
	Confidence float64 // [0,1]
	ChunkID    uuid.UUID
}
