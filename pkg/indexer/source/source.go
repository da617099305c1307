package source

import (
	"context"
)

// Document はソースから取得されたドキュメントを表します
type Document struct {
	Path        string // ドキュメントのパス（識別子）
	Content     string // ドキュメントの内容
	Size        int64  // ドキュメントのサイズ（バイト）
	ContentHash string // ドキュメント内容のハッシュ
}

// FetchOptions はソース取得のオプションです
type FetchOptions struct {
	Ref string // Gitのref（ブランチ、タグ、コミットハッシュ）
}

// Provider はソースタイプごとの具体的な実装を提供するインターフェースです
type Provider interface {
	// Type はソースタイプ名を返します
	Type() string

	// SourceName はソース識別子から表示用のソース名を抽出します
	SourceName(identifier string) string

	// FetchDocuments はソースからテキストドキュメント一覧を取得します
	// 戻り値: ドキュメント一覧, バージョン識別子, エラー
	FetchDocuments(ctx context.Context, identifier string, opts FetchOptions) ([]*Document, string, error)
}
