package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部から取り込んだテキストからマークアップを取り除く。
// URLメタデータ（タイトル・説明・著者名）とフィードの記事タイトルに使用される。
type TextSanitizer interface {
	// SanitizeText は全てのタグを除去し、文字参照を復元したプレーンテキストを返す。
	// 行内の連続する空白は1つにまとめ、改行は残す。
	// 同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// ContentSanitizer はbluemondayのStrictPolicyを使ったTextSanitizerの実装。
// ポリシーは生成後に変更しないため、複数のgoroutineから同時に使用できる。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// StrictPolicyはscriptやstyleの中身も含めて全ての要素を除去する。
func NewContentSanitizer() *ContentSanitizer {
	return &ContentSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はプレーンテキストを返す。
// bluemondayは出力をHTMLエスケープするため、最後に文字参照を戻す。
func (s *ContentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	lines := strings.Split(html.UnescapeString(s.policy.Sanitize(raw)), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// compile-time interface check
var _ TextSanitizer = (*ContentSanitizer)(nil)
