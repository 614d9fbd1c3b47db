package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/security"
)

const (
	// DefaultMaxBodySize はレスポンスボディを読み取る上限。
	DefaultMaxBodySize = 2 * 1024 * 1024
	userAgent          = "Cardshelf/1.0 (+metadata)"
)

// ErrUnsupportedContent はHTML以外のレスポンスでメタデータを読み取れないことを表す。
var ErrUnsupportedContent = errors.New("HTML以外のコンテンツです")

// URLValidator は接続前にURLの安全性を検証する。security.SSRFGuardが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Fetcher はURL先のHTMLを取得してメタデータを取り出す。
type Fetcher struct {
	client      *http.Client
	validator   URLValidator
	sanitizer   security.TextSanitizer
	maxBodySize int64
	logger      *slog.Logger
}

// Option はFetcherとFeedImporterの任意設定。
type Option func(*options)

type options struct {
	validator   URLValidator
	sanitizer   security.TextSanitizer
	maxBodySize int64
	logger      *slog.Logger
}

// WithValidator は接続前のURL検証を設定する。
func WithValidator(v URLValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithSanitizer は取り出したテキストの無害化を設定する。
func WithSanitizer(s security.TextSanitizer) Option {
	return func(o *options) { o.sanitizer = s }
}

// WithMaxBodySize はレスポンスボディを読み取る上限を設定する。
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{maxBodySize: DefaultMaxBodySize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFetcher はFetcherを生成する。
// clientには通常security.SSRFGuard.NewSafeClientで生成したクライアントを渡す。
func NewFetcher(client *http.Client, opts ...Option) *Fetcher {
	o := buildOptions(opts)
	return &Fetcher{
		client:      client,
		validator:   o.validator,
		sanitizer:   o.sanitizer,
		maxBodySize: o.maxBodySize,
		logger:      o.logger,
	}
}

// Fetch はURL先のページを取得し、メタデータを返す。
// 2xx以外のステータスやHTML以外のコンテンツはエラーになる。
func (f *Fetcher) Fetch(ctx context.Context, u model.URL) (model.URLMetadata, error) {
	start := time.Now()

	body, err := get(ctx, f.client, f.validator, u.String(), "text/html, application/xhtml+xml;q=0.9, */*;q=0.1", f.maxBodySize, func(contentType string) bool {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		return contentType == "" || strings.Contains(strings.ToLower(mediaType), "html")
	})
	if err != nil {
		return model.URLMetadata{}, err
	}

	md := Extract(body, u.String())
	md.Title = f.sanitize(md.Title)
	md.Description = f.sanitize(md.Description)
	md.Author = f.sanitize(md.Author)
	md.SiteName = f.sanitize(md.SiteName)
	md.Type = f.sanitize(md.Type)
	md.RetrievedAt = time.Now().UTC()

	f.logger.DebugContext(ctx, "URLメタデータを取得しました",
		slog.String("url", u.String()),
		slog.Bool("has_title", md.Title != ""),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return md, nil
}

func (f *Fetcher) sanitize(s string) string {
	if f.sanitizer == nil {
		return s
	}
	return f.sanitizer.SanitizeText(s)
}

// get はURLを検証してGETし、上限までのボディを返す。acceptTypeがfalseを返すContent-Typeはエラーにする。
func get(ctx context.Context, client *http.Client, validator URLValidator, rawURL, accept string, maxBodySize int64, acceptType func(string) bool) ([]byte, error) {
	if validator != nil {
		if err := validator.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("URLが許可されていません: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}
	if !acceptType(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}
	return body, nil
}
