package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-enry/go-enry/v2"
)

// maxFileSize を超えるファイルはインデックス対象外です
const maxFileSize = 5 * 1024 * 1024

// LocalProvider はローカルのファイルまたはディレクトリを読み込むProviderです
type LocalProvider struct{}

// NewLocalProvider は新しいLocalProviderを作成します
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Type はソースタイプ名を返します
func (p *LocalProvider) Type() string {
	return "local"
}

// SourceName はパスのベース名をソース名として返します
func (p *LocalProvider) SourceName(identifier string) string {
	return filepath.Base(filepath.Clean(identifier))
}

// FetchDocuments はローカルパスからテキストドキュメント一覧を取得します。
// identifier が単一ファイルならそのファイルのみ、ディレクトリなら
// 配下を再帰的に走査します。バージョン識別子には走査時刻を使います。
func (p *LocalProvider) FetchDocuments(ctx context.Context, identifier string, opts FetchOptions) ([]*Document, string, error) {
	info, err := os.Stat(identifier)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat path %s: %w", identifier, err)
	}

	version := time.Now().UTC().Format(time.RFC3339)

	if !info.IsDir() {
		doc, err := readLocalFile(identifier, filepath.Base(identifier), info.Size())
		if err != nil {
			return nil, "", err
		}
		if doc == nil {
			return nil, version, nil
		}
		return []*Document{doc}, version, nil
	}

	ignoreFilter, err := NewIgnoreFilter(identifier)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create ignore filter: %w", err)
	}

	var documents []*Document
	err = filepath.WalkDir(identifier, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(identifier, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if ignoreFilter.ShouldIgnore(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			return err
		}

		doc, err := readLocalFile(path, relPath, fileInfo.Size())
		if err != nil {
			// 読めないファイルはスキップ
			return nil
		}
		if doc != nil {
			documents = append(documents, doc)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to walk directory: %w", err)
	}

	return documents, version, nil
}

// readLocalFile はテキストファイルを読み込みます。
// バイナリや巨大ファイルはnilを返してスキップします。
func readLocalFile(path, relPath string, size int64) (*Document, error) {
	if size > maxFileSize {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if enry.IsBinary(content) || enry.IsVendor(relPath) {
		return nil, nil
	}

	return &Document{
		Path:        relPath,
		Content:     string(content),
		Size:        size,
		ContentHash: fmt.Sprintf("%x", sha256.Sum256(content)),
	}, nil
}

var _ Provider = (*LocalProvider)(nil)
