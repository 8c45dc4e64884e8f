package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout はリクエスト全体のタイムアウト。
const defaultTimeout = 10 * time.Second

// defaultMaxBodyBytes はレスポンスボディとして受け付ける最大バイト数。
const defaultMaxBodyBytes int64 = 1 << 20

// Client は外部エンドポイント用のHTTPクライアント。
// タイムアウトとレスポンスサイズ上限の設定を持つ。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先のベースURL。
	baseURL string
	// maxBodyBytes はレスポンスボディの最大バイト数。
	maxBodyBytes int64
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithTimeout はリクエストのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxBodyBytes はレスポンスボディの最大バイト数を設定する。
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_xxx"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL:      baseURL,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は2xx以外のステータスコードが返ったことを表す。
type StatusError struct {
	// StatusCode はレスポンスのステータスコード。
	StatusCode int
	// URL はリクエスト先のURL。
	URL string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, url=%s", e.StatusCode, e.URL)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 接続を再利用できるようにボディを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return fmt.Errorf("レスポンスボディが上限(%dバイト)を超えている", c.maxBodyBytes)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
