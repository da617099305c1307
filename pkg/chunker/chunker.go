package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/doc-rag/pkg/apperrors"
)

const (
	// MinChunkSize は許容される最小チャンクサイズ（文字数）
	MinChunkSize = 100

	// DefaultChunkSize はデフォルトのチャンクサイズ（文字数）
	DefaultChunkSize = 800

	// DefaultOverlap はデフォルトのオーバーラップ（文字数）
	DefaultOverlap = 200
)

// separators は分割位置の探索に使う区切り文字列（優先度順）。
// 段落境界 → 行境界 → 文末 → 空白 の順で探し、どれも見つからない
// 場合はウィンドウ末尾でそのまま切ります。
var separators = []string{"\n\n", "\n", "。", ".", "！", "!", "？", "?", " "}

// Segment は分割されたテキスト断片を表します
type Segment struct {
	Text        string
	Position    int // ドキュメント内の 0 始まりの連番
	Offset      int // 元テキスト内の開始位置（文字単位）
	TokenCount  int
	ContentHash string
}

// ParentSegment は親チャンクとその配下の子チャンクを表します（Small-to-Big）
type ParentSegment struct {
	Segment
	Children []Segment
}

// Chunker はテキストをオーバーラップ付きの断片に分割します
type Chunker struct {
	encoder *tiktoken.Tiktoken
}

// New は新しいChunkerを作成します
func New() (*Chunker, error) {
	// cl100k_baseエンコーダを使用（text-embedding-3-smallと互換）
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &Chunker{encoder: encoder}, nil
}

// Split はテキストをチャンクサイズ以下の断片に分割します。
//
// ウィンドウ [start, start+chunkSize) を順に取り、最終ウィンドウ以外は
// ウィンドウ末尾からオーバーラップ幅の範囲内で区切り文字を後方探索し、
// 単語や文の途中で切れないようにします。次の開始位置は cutEnd - overlap
// で、前進しない場合は cutEnd に強制して無限ループを防ぎます。
//
// 空文字列は 0 断片、chunkSize 以下の入力は入力全体と等しい 1 断片を
// 返します。
func (c *Chunker) Split(text string, chunkSize, overlap int) ([]Segment, error) {
	if chunkSize < MinChunkSize {
		return nil, apperrors.New(apperrors.CodeValidation, "chunk size must be at least %d characters, got %d", MinChunkSize, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, apperrors.New(apperrors.CodeValidation, "overlap must be in [0, chunkSize), got overlap=%d chunkSize=%d", overlap, chunkSize)
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	if n <= chunkSize {
		return []Segment{c.newSegment(text, 0, 0)}, nil
	}

	var segments []Segment
	start := 0
	for start < n {
		end := start + chunkSize
		cutEnd := n
		if end < n {
			cutEnd = findCut(runes, end, overlap)
		}

		segments = append(segments, c.newSegment(string(runes[start:cutEnd]), len(segments), start))

		if cutEnd >= n {
			break
		}

		next := cutEnd - overlap
		// 前進保証: 次の開始位置が進まない場合はオーバーラップを捨てる
		if next <= start {
			next = cutEnd
		}
		start = next
	}

	return segments, nil
}

// SplitHierarchical は二層分割を行います。まず親サイズで分割し、
// 各親を独立に子サイズで再分割します。子の Offset は
// parent.Offset + 親内相対位置 の絶対位置で、Position はドキュメント
// 全体を通した連番です。
func (c *Chunker) SplitHierarchical(text string, parentSize, childSize, overlap int) ([]ParentSegment, error) {
	if childSize >= parentSize {
		return nil, apperrors.New(apperrors.CodeValidation, "child chunk size %d must be smaller than parent chunk size %d", childSize, parentSize)
	}

	parents, err := c.Split(text, parentSize, overlap)
	if err != nil {
		return nil, err
	}

	result := make([]ParentSegment, 0, len(parents))
	childPos := 0
	for _, parent := range parents {
		children, err := c.Split(parent.Text, childSize, overlap)
		if err != nil {
			return nil, err
		}
		for i := range children {
			children[i].Offset += parent.Offset
			children[i].Position = childPos
			childPos++
		}
		result = append(result, ParentSegment{Segment: parent, Children: children})
	}

	return result, nil
}

// CountTokens はテキストのトークン数を返します
func (c *Chunker) CountTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

func (c *Chunker) newSegment(text string, position, offset int) Segment {
	hash := sha256.Sum256([]byte(text))
	return Segment{
		Text:        text,
		Position:    position,
		Offset:      offset,
		TokenCount:  c.CountTokens(text),
		ContentHash: hex.EncodeToString(hash[:]),
	}
}

// findCut はウィンドウ末尾 end からオーバーラップ幅の範囲内で
// 区切り文字を後方探索し、切断位置を返します。区切り文字の直後で
// 切るため、断片は区切り文字で終わります。見つからない場合は end を
// 返します。
func findCut(runes []rune, end, overlap int) int {
	tailStart := end - overlap
	if tailStart < 0 {
		tailStart = 0
	}

	for _, sep := range separators {
		sepRunes := []rune(sep)
		for i := end - len(sepRunes); i >= tailStart; i-- {
			if matchAt(runes, i, sepRunes) {
				return i + len(sepRunes)
			}
		}
	}

	return end
}

func matchAt(runes []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
