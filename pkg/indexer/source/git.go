package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	giturls "github.com/whilp/git-urls"
)

// GitProvider はGitリポジトリを読み込むProviderです。
// リポジトリは cloneBaseDir 配下にクローンし、2回目以降はfetchで更新します。
type GitProvider struct {
	cloneBaseDir  string
	defaultBranch string
}

// NewGitProvider は新しいGitProviderを作成します
func NewGitProvider(cloneBaseDir, defaultBranch string) *GitProvider {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &GitProvider{
		cloneBaseDir:  cloneBaseDir,
		defaultBranch: defaultBranch,
	}
}

// Type はソースタイプ名を返します
func (p *GitProvider) Type() string {
	return "git"
}

// SourceName はGit URLからソース名を抽出します
// 例: git@github.com:user/repo.git -> github.com/user/repo
// 例: https://github.com/user/repo.git -> github.com/user/repo
func (p *GitProvider) SourceName(identifier string) string {
	parsed, err := giturls.Parse(identifier)
	if err != nil {
		return strings.TrimSuffix(identifier, ".git")
	}
	path := strings.TrimSuffix(strings.TrimPrefix(parsed.Path, "/"), ".git")
	if parsed.Host == "" {
		return path
	}
	return parsed.Host + "/" + path
}

// FetchDocuments はGitリポジトリからテキストドキュメント一覧を取得します。
// バージョン識別子にはrefのコミットハッシュを使います。
func (p *GitProvider) FetchDocuments(ctx context.Context, identifier string, opts FetchOptions) ([]*Document, string, error) {
	ref := opts.Ref
	if ref == "" {
		ref = p.defaultBranch
	}

	repoPath := filepath.Join(p.cloneBaseDir, sanitizeDirName(p.SourceName(identifier)))
	repo, err := p.cloneOrFetch(ctx, identifier, repoPath)
	if err != nil {
		return nil, "", err
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return nil, "", err
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get commit object: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get tree: %w", err)
	}

	ignoreFilter, err := NewIgnoreFilter(repoPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create ignore filter: %w", err)
	}

	var documents []*Document
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Size > maxFileSize {
			return nil
		}
		if ignoreFilter.ShouldIgnore(f.Name) || enry.IsVendor(f.Name) {
			return nil
		}

		content, err := f.Contents()
		if err != nil {
			// 読めないファイルはスキップ
			return nil
		}
		if enry.IsBinary([]byte(content)) {
			return nil
		}

		documents = append(documents, &Document{
			Path:        f.Name,
			Content:     content,
			Size:        f.Size,
			ContentHash: fmt.Sprintf("%x", sha256.Sum256([]byte(content))),
		})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to iterate files: %w", err)
	}

	return documents, hash.String(), nil
}

// cloneOrFetch はリポジトリが存在しない場合はクローン、存在する場合はfetchします
func (p *GitProvider) cloneOrFetch(ctx context.Context, url, repoPath string) (*git.Repository, error) {
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(err) {
		repo, err := git.PlainCloneContext(ctx, repoPath, false, &git.CloneOptions{
			URL: url,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone repository: %w", err)
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin"})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	return repo, nil
}

// resolveRef はrefをブランチ、リモートブランチ、タグ、HEAD、
// 直接ハッシュの順で解決します
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return branchRef.Hash(), nil
	}
	if remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true); err == nil {
		return remoteRef.Hash(), nil
	}
	if tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true); err == nil {
		return tagRef.Hash(), nil
	}
	if ref == "HEAD" {
		if headRef, err := repo.Head(); err == nil {
			return headRef.Hash(), nil
		}
	}
	hash := plumbing.NewHash(ref)
	if !hash.IsZero() {
		if _, err := repo.CommitObject(hash); err == nil {
			return hash, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}

// sanitizeDirName はソース名をディレクトリ名として安全な形に変換します
func sanitizeDirName(name string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(name)
}

var _ Provider = (*GitProvider)(nil)
