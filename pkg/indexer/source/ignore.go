package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFilter は .gitignore と .docragignore のパターンマッチングを提供します
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は新しいIgnoreFilterを作成します。
// rootPath 配下の .gitignore と .docragignore を読み込み、
// デフォルトの除外パターンと合成します。
func NewIgnoreFilter(rootPath string) (*IgnoreFilter, error) {
	var patterns []string

	for _, name := range []string{".gitignore", ".docragignore"} {
		path := filepath.Join(rootPath, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		filePatterns, err := readIgnoreFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, filePatterns...)
	}

	patterns = append(patterns, defaultIgnorePatterns...)

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// ShouldIgnore はパスが除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	if f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(path)
}

// readIgnoreFile は ignore ファイルを読み込んでパターンのスライスを返します
func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// 空行とコメント行をスキップ
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

// defaultIgnorePatterns はソースの種類を問わず除外するパターンです
var defaultIgnorePatterns = []string{
	// Git関連
	".git",
	".gitignore",
	".gitattributes",
	".gitmodules",

	// 依存関係・ビルド成果物
	"node_modules",
	"vendor",
	"dist",
	"build",
	"target",
	"out",
	"bin",

	// IDE/エディタ関連
	".vscode",
	".idea",
	".DS_Store",
	"*.swp",

	// ログ・一時ファイル
	"*.log",
	"logs",
	"*.tmp",
	"tmp",

	// 環境変数・機密情報
	".env",
	".env.local",
	"*.pem",
	"*.key",

	// アーカイブ
	"*.zip",
	"*.tar",
	"*.gz",
	"*.7z",

	// 画像・メディアファイル
	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.ico",
	"*.svg",
	"*.mp4",
	"*.mp3",

	// フォント
	"*.ttf",
	"*.woff",
	"*.woff2",

	// データベースファイル
	"*.db",
	"*.sqlite",

	// キャッシュ
	".cache",
	"__pycache__",
	"*.pyc",
}
