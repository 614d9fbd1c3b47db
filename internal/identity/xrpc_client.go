// Package identity はキュレーター識別子（ハンドル/DID）の解決と、プロフィール取得を提供する。
// 外部のXRPCエンドポイントを呼び出し、結果をキャッシュする。
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultBaseURL は公開AppViewのエンドポイント。
	DefaultBaseURL = "https://public.api.bsky.app"
	// maxResponseSize はXRPCレスポンスの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
	userAgent       = "Cardshelf/1.0"
)

// ErrUnavailable はサーキットブレーカーが開いていて呼び出しを行わなかったことを表す。
var ErrUnavailable = errors.New("XRPCエンドポイントが一時的に利用できません")

// XRPCError はXRPCエンドポイントが返したエラーレスポンス。
type XRPCError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"message"`
}

func (e *XRPCError) Error() string {
	return fmt.Sprintf("XRPCエラー (status=%d, error=%s): %s", e.StatusCode, e.Name, e.Message)
}

// IsClientError はリクエスト側の問題（4xx）によるエラーかどうかを返す。
func (e *XRPCError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Querier はXRPCのqueryメソッドを呼び出すインターフェース。
type Querier interface {
	Query(ctx context.Context, method string, params url.Values, out any) error
}

// Client はXRPCのHTTPクライアント。
// 連続した失敗でサーキットブレーカーが開き、一定時間は呼び出しを行わずにErrUnavailableを返す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient はClientの新しいインスタンスを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "xrpc",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// 4xxは相手側の障害ではないため失敗として数えない
		IsSuccessful: func(err error) bool {
			var xe *XRPCError
			if errors.As(err, &xe) {
				return xe.IsClientError()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Query はXRPCのqueryメソッドをGETで呼び出し、レスポンスJSONをoutにデコードする。
func (c *Client) Query(ctx context.Context, method string, params url.Values, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, params, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (c *Client) do(ctx context.Context, method string, params url.Values, out any) error {
	reqURL := c.baseURL + "/xrpc/" + method
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("XRPCの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		xe := &XRPCError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, xe)
		if !xe.IsClientError() {
			c.logger.Error("XRPCがエラーステータスを返しました",
				slog.String("method", method),
				slog.Int("http_status", resp.StatusCode),
			)
		}
		return xe
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Querier = (*Client)(nil)
