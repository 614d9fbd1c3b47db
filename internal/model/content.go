package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// CardType はカードの種別を表す。
type CardType string

const (
	// CardTypeURL はURLブックマーク。
	CardTypeURL CardType = "URL"
	// CardTypeNote はメモ。
	CardTypeNote CardType = "NOTE"
	// CardTypeHighlight は引用ハイライト。
	CardTypeHighlight CardType = "HIGHLIGHT"
)

// ParseCardType は文字列からCardTypeを生成する。
func ParseCardType(raw string) (CardType, error) {
	switch t := CardType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case CardTypeURL, CardTypeNote, CardTypeHighlight:
		return t, nil
	default:
		return "", NewValidationError(ErrCodeInvalidCardType, "無効なカード種別です: "+raw)
	}
}

// カード内容の長さ制限
const (
	MaxNoteTextLength      = 10000
	MaxNoteTitleLength     = 300
	MaxHighlightTextLength = 5000
)

// URLMetadata はURL先のページから取得したメタデータ。
type URLMetadata struct {
	Title       string
	Description string
	Author      string
	ImageURL    string
	SiteName    string
	Type        string
	RetrievedAt time.Time
}

// IsEmpty はメタデータが1項目も取得できていないかを返す。
func (m URLMetadata) IsEmpty() bool {
	return m.Title == "" && m.Description == "" && m.Author == "" &&
		m.ImageURL == "" && m.SiteName == "" && m.Type == ""
}

// CardContent はカード種別ごとに異なる内容を表すタグ付き共用体。
// 実装はURLContent、NoteContent、HighlightContentの3種類のみ。
type CardContent interface {
	Type() CardType
	sealed()
}

// URLContent はURLカードの内容。
type URLContent struct {
	url      URL
	metadata *URLMetadata
}

// NewURLContent はURLカードの内容を生成する。metadataは省略可能。
func NewURLContent(u URL, metadata *URLMetadata) (URLContent, error) {
	if u.IsZero() {
		return URLContent{}, NewInvalidCardContentError("URLカードにはURLが必要です")
	}
	var md *URLMetadata
	if metadata != nil {
		copied := *metadata
		md = &copied
	}
	return URLContent{url: u, metadata: md}, nil
}

// Type はCardTypeURLを返す。
func (URLContent) Type() CardType { return CardTypeURL }
func (URLContent) sealed()        {}

// URL はブックマーク先URLを返す。
func (c URLContent) URL() URL { return c.url }

// Metadata はメタデータを返す。未取得の場合はnil。
func (c URLContent) Metadata() *URLMetadata {
	if c.metadata == nil {
		return nil
	}
	copied := *c.metadata
	return &copied
}

// WithMetadata はメタデータを差し替えた新しいURLContentを返す。
func (c URLContent) WithMetadata(metadata URLMetadata) URLContent {
	return URLContent{url: c.url, metadata: &metadata}
}

// NoteContent はメモカードの内容。
type NoteContent struct {
	text  string
	title string
}

// NewNoteContent はメモカードの内容を生成する。textは必須、titleは省略可能。
func NewNoteContent(text, title string) (NoteContent, error) {
	text = strings.TrimSpace(text)
	title = strings.TrimSpace(title)
	if text == "" {
		return NoteContent{}, NewInvalidCardContentError("メモの本文が空です")
	}
	if utf8.RuneCountInString(text) > MaxNoteTextLength {
		return NoteContent{}, NewInvalidCardContentError("メモの本文が長すぎます")
	}
	if utf8.RuneCountInString(title) > MaxNoteTitleLength {
		return NoteContent{}, NewInvalidCardContentError("メモのタイトルが長すぎます")
	}
	return NoteContent{text: text, title: title}, nil
}

// Type はCardTypeNoteを返す。
func (NoteContent) Type() CardType { return CardTypeNote }
func (NoteContent) sealed()        {}

// Text は本文を返す。
func (c NoteContent) Text() string { return c.text }

// Title はタイトルを返す。
func (c NoteContent) Title() string { return c.title }

// HighlightContent はハイライトカードの内容。
type HighlightContent struct {
	text      string
	sourceURL URL
	context   string
}

// NewHighlightContent はハイライトカードの内容を生成する。
// textとsourceURLは必須、contextは前後の文脈（省略可能）。
func NewHighlightContent(text string, sourceURL URL, context string) (HighlightContent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return HighlightContent{}, NewInvalidCardContentError("ハイライトの引用文が空です")
	}
	if utf8.RuneCountInString(text) > MaxHighlightTextLength {
		return HighlightContent{}, NewInvalidCardContentError("ハイライトの引用文が長すぎます")
	}
	if sourceURL.IsZero() {
		return HighlightContent{}, NewInvalidCardContentError("ハイライトには引用元URLが必要です")
	}
	return HighlightContent{text: text, sourceURL: sourceURL, context: strings.TrimSpace(context)}, nil
}

// Type はCardTypeHighlightを返す。
func (HighlightContent) Type() CardType { return CardTypeHighlight }
func (HighlightContent) sealed()        {}

// Text は引用文を返す。
func (c HighlightContent) Text() string { return c.text }

// SourceURL は引用元URLを返す。
func (c HighlightContent) SourceURL() URL { return c.sourceURL }

// Context は前後の文脈を返す。
func (c HighlightContent) Context() string { return c.context }
