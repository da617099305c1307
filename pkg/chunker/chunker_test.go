package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/pkg/apperrors"
)

func newTestChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestSplit_InvalidParams(t *testing.T) {
	c := newTestChunker(t)

	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"チャンクサイズが小さすぎる", 99, 10},
		{"オーバーラップがチャンクサイズ以上", 200, 200},
		{"オーバーラップが負", 200, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Split("some text", tt.chunkSize, tt.overlap)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
		})
	}
}

func TestSplit_EmptyText(t *testing.T) {
	c := newTestChunker(t)

	segments, err := c.Split("", 200, 50)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestSplit_ShortText(t *testing.T) {
	c := newTestChunker(t)

	text := "短いテキストはそのまま1断片になります。"
	segments, err := c.Split(text, 200, 50)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, text, segments[0].Text)
	assert.Equal(t, 0, segments[0].Offset)
	assert.Equal(t, 0, segments[0].Position)
	assert.NotEmpty(t, segments[0].ContentHash)
	assert.Greater(t, segments[0].TokenCount, 0)
}

// TestSplit_CoverageInvariant は任意の入力で分割が停止し、各断片が
// チャンクサイズ以下で、オフセット順にギャップなく元テキストを覆う
// ことを確認します
func TestSplit_CoverageInvariant(t *testing.T) {
	c := newTestChunker(t)

	texts := []string{
		strings.Repeat("word ", 500),
		strings.Repeat("a", 2000), // 区切り文字なし
		strings.Repeat("First sentence. Second sentence! Third sentence?\n", 50),
		strings.Repeat("段落の一つ目です。\n\n段落の二つ目です。\n\n", 80),
	}

	for _, text := range texts {
		for _, params := range []struct{ size, overlap int }{
			{100, 0},
			{200, 50},
			{300, 299},
		} {
			segments, err := c.Split(text, params.size, params.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, segments)

			runes := []rune(text)
			covered := 0
			for i, seg := range segments {
				segLen := len([]rune(seg.Text))
				assert.LessOrEqual(t, segLen, params.size, "segment %d exceeds chunk size", i)
				assert.Equal(t, i, seg.Position)

				// 断片は宣言されたオフセット位置の部分文字列と一致する
				assert.Equal(t, string(runes[seg.Offset:seg.Offset+segLen]), seg.Text)

				// オフセット範囲を結合するとギャップなく連続する
				assert.LessOrEqual(t, seg.Offset, covered, "gap before segment %d", i)
				if seg.Offset+segLen > covered {
					covered = seg.Offset + segLen
				}
			}
			assert.Equal(t, len(runes), covered, "segments must cover the whole text")
		}
	}
}

func TestSplit_PrefersSeparatorBoundaries(t *testing.T) {
	c := newTestChunker(t)

	// 文末がオーバーラップ範囲内に来るように構成
	text := strings.Repeat("This is a sentence. ", 30)
	segments, err := c.Split(text, 120, 40)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	for _, seg := range segments[:len(segments)-1] {
		trimmed := strings.TrimRight(seg.Text, " ")
		assert.True(t,
			strings.HasSuffix(trimmed, ".") || strings.HasSuffix(seg.Text, " ") || strings.HasSuffix(seg.Text, "\n"),
			"segment should end at a separator: %q", seg.Text)
	}
}

func TestSplitHierarchical_ChildWithinParent(t *testing.T) {
	c := newTestChunker(t)

	text := strings.Repeat("Alpha beta gamma delta epsilon. ", 200)
	parents, err := c.SplitHierarchical(text, 1000, 200, 50)
	require.NoError(t, err)
	require.NotEmpty(t, parents)

	prevPos := -1
	for _, parent := range parents {
		parentEnd := parent.Offset + len([]rune(parent.Text))
		require.NotEmpty(t, parent.Children)

		for _, child := range parent.Children {
			childEnd := child.Offset + len([]rune(child.Text))

			// 子の絶対オフセット範囲は親の範囲に完全に含まれる
			assert.GreaterOrEqual(t, child.Offset, parent.Offset)
			assert.LessOrEqual(t, childEnd, parentEnd)

			// Positionはドキュメント全体で単調増加
			assert.Equal(t, prevPos+1, child.Position)
			prevPos = child.Position
		}
	}
}

func TestSplitHierarchical_InvalidSizes(t *testing.T) {
	c := newTestChunker(t)

	_, err := c.SplitHierarchical("text", 200, 200, 50)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}
