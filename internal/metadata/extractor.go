// Package metadata はURL先のページからメタデータを取得し、RSS/Atomフィードの記事をカードとして取り込む。
package metadata

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/cardshelf/internal/model"
)

// maxTitleBytes は<title>から読み取る最大バイト数。
const maxTitleBytes = 2048

// Extract はHTMLのheadからタイトル・説明・著者・画像・サイト名・種別を読み取る。
// Open Graphの値を優先し、なければ<title>と<meta name>を使う。
// 画像の相対URLはbaseURLを基準に解決する。body開始以降は読まない。
func Extract(body []byte, baseURL string) model.URLMetadata {
	var (
		og      = map[string]string{}
		named   = map[string]string{}
		title   strings.Builder
		inTitle bool
	)

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
loop:
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "body":
				break loop
			case "title":
				inTitle = title.Len() == 0
			case "meta":
				if hasAttr {
					readMeta(tokenizer, og, named)
				}
			}

		case html.TextToken:
			if inTitle && title.Len() < maxTitleBytes {
				title.Write(tokenizer.Text())
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "title":
				inTitle = false
			case "head":
				break loop
			}
		}
	}

	md := model.URLMetadata{
		Title:       firstNonEmpty(og["og:title"], named["twitter:title"], title.String()),
		Description: firstNonEmpty(og["og:description"], named["description"], named["twitter:description"]),
		Author:      firstNonEmpty(og["article:author"], named["author"]),
		ImageURL:    resolveURL(baseURL, firstNonEmpty(og["og:image"], og["og:image:url"], named["twitter:image"])),
		SiteName:    og["og:site_name"],
		Type:        og["og:type"],
	}
	md.Title = strings.TrimSpace(md.Title)
	return md
}

// readMeta はmeta要素の属性を読み、property属性はog、name属性はnamedに格納する。
// 同じキーは最初に現れた値を使う。
func readMeta(tokenizer *html.Tokenizer, og, named map[string]string) {
	var property, name, content string
	for {
		key, val, more := tokenizer.TagAttr()
		switch strings.ToLower(string(key)) {
		case "property":
			property = strings.ToLower(strings.TrimSpace(string(val)))
		case "name":
			name = strings.ToLower(strings.TrimSpace(string(val)))
		case "content":
			content = strings.TrimSpace(string(val))
		}
		if !more {
			break
		}
	}
	if content == "" {
		return
	}
	if property != "" {
		if _, ok := og[property]; !ok {
			og[property] = content
		}
	}
	if name != "" {
		if _, ok := named[name]; !ok {
			named[name] = content
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveURL は相対URLをbaseURLを基準に絶対URLに解決する。http(s)以外は捨てる。
func resolveURL(baseURL, rawRef string) string {
	if rawRef == "" {
		return ""
	}
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	if base, err := url.Parse(baseURL); err == nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
