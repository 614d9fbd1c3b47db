package model

import (
	"net/url"
	"strings"
)

// maxURLLength はURL文字列の最大長。
const maxURLLength = 2048

// URL は検証・正規化済みの絶対URL。
// スキームとホストは小文字化され、フラグメントとデフォルトポートは除去される。
type URL struct {
	value string
}

// NewURL は文字列を検証・正規化してURLを生成する。
func NewURL(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, NewInvalidURLError("URLが入力されていません")
	}
	if len(raw) > maxURLLength {
		return URL{}, NewInvalidURLError("URLが長すぎます")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, NewInvalidURLError(err.Error())
	}
	if !u.IsAbs() {
		return URL{}, NewInvalidURLError("絶対URLを指定してください")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return URL{}, NewInvalidURLError("http または https のみ利用できます")
	}
	if u.Hostname() == "" {
		return URL{}, NewInvalidURLError("ホストがありません")
	}

	u.Scheme = scheme
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	if strings.Contains(u.Hostname(), ":") {
		// IPv6リテラル
		host = "[" + strings.ToLower(u.Hostname()) + "]"
		if port != "" {
			host += ":" + port
		}
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	return URL{value: u.String()}, nil
}

// MustURL はNewURLの結果がエラーの場合panicする。テスト用。
func MustURL(raw string) URL {
	u, err := NewURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String は正規化済みURL文字列を返す。
func (u URL) String() string { return u.value }

// IsZero はゼロ値かどうかを返す。
func (u URL) IsZero() bool { return u.value == "" }

// Equals は値が等しいかどうかを返す。
func (u URL) Equals(other URL) bool { return u.value == other.value }

// Host はホスト名を返す。
func (u URL) Host() string {
	parsed, err := url.Parse(u.value)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
