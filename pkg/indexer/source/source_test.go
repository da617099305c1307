package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_FetchDocuments_Dir(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# タイトル\n本文"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "guide.txt"), []byte("ガイド"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("secret.txt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("秘密"), 0o644))
	// NULバイトを含むファイルはバイナリ扱い
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte{0x00, 0x01, 0x02}, 0o644))

	p := NewLocalProvider()
	docs, version, err := p.FetchDocuments(context.Background(), dir, FetchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	paths := make([]string, len(docs))
	for i, doc := range docs {
		paths[i] = doc.Path
		assert.NotEmpty(t, doc.ContentHash)
	}
	assert.ElementsMatch(t, []string{"readme.md", filepath.Join("docs", "guide.txt")}, paths)
}

func TestLocalProvider_FetchDocuments_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("メモ"), 0o644))

	p := NewLocalProvider()
	docs, _, err := p.FetchDocuments(context.Background(), path, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "note.md", docs[0].Path)
	assert.Equal(t, "メモ", docs[0].Content)
}

func TestLocalProvider_FetchDocuments_MissingPath(t *testing.T) {
	p := NewLocalProvider()
	_, _, err := p.FetchDocuments(context.Background(), "/no/such/path", FetchOptions{})
	require.Error(t, err)
}

func TestGitProvider_SourceName(t *testing.T) {
	p := NewGitProvider(t.TempDir(), "main")

	tests := []struct {
		identifier string
		want       string
	}{
		{"git@github.com:user/repo.git", "github.com/user/repo"},
		{"https://github.com/user/repo.git", "github.com/user/repo"},
		{"https://github.com/user/repo", "github.com/user/repo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.SourceName(tt.identifier))
	}
}

func TestIgnoreFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("# comment\n*.generated\n"), 0o644))

	f, err := NewIgnoreFilter(dir)
	require.NoError(t, err)

	assert.True(t, f.ShouldIgnore("api.generated"))
	assert.True(t, f.ShouldIgnore("node_modules/pkg/index.js"))
	assert.True(t, f.ShouldIgnore("logo.png"))
	assert.False(t, f.ShouldIgnore("main.go"))
}
