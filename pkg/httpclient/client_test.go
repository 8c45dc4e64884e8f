package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// testPayload はテスト用のレスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("デフォルトのタイムアウトが10秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want 10s", client.httpClient.Timeout)
		}
	})

	t.Run("オプションでタイムアウトと上限を変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(3*time.Second), WithMaxBodyBytes(128))
		if client.httpClient.Timeout != 3*time.Second {
			t.Errorf("Timeout = %v, want 3s", client.httpClient.Timeout)
		}
		if client.maxBodyBytes != 128 {
			t.Errorf("maxBodyBytes = %d, want 128", client.maxBodyBytes)
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Headers = r.Header

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "get-response", Value: 42})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/.well-known/jwks.json", &result)
		if err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if received.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodGet)
		}
		if received.Path != "/.well-known/jwks.json" {
			t.Errorf("Path = %q, want %q", received.Path, "/.well-known/jwks.json")
		}
		if got := received.Headers.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want %q", got, "application/json")
		}

		if result.Name != "get-response" {
			t.Errorf("result.Name = %q, want %q", result.Name, "get-response")
		}
		if result.Value != 42 {
			t.Errorf("result.Value = %d, want %d", result.Value, 42)
		}
	})

	t.Run("GETリクエストにリクエストボディが含まれないこと", func(t *testing.T) {
		t.Parallel()

		var receivedBody []byte
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "ok", Value: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		if err := client.GetJSON(context.Background(), "/api/test", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if len(receivedBody) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", string(receivedBody))
		}
	})

	t.Run("サーバーが404を返した場合にStatusErrorが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/missing", &result)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("エラーがStatusErrorではない: %T", err)
		}
		if statusErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		if err := client.GetJSON(context.Background(), "/api/test", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("上限を超えるレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"` + strings.Repeat("a", 256) + `"}`))
		}))
		defer ts.Close()

		client := New(ts.URL, WithMaxBodyBytes(64))
		var result testPayload

		if err := client.GetJSON(context.Background(), "/big", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("resultがnilの場合でもエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		if err := client.GetJSON(context.Background(), "/api/test", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // 即座にキャンセル

		var result testPayload
		if err := client.GetJSON(ctx, "/api/test", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// 存在しないサーバーに接続を試みる
		client := New("http://127.0.0.1:1")
		var result testPayload

		if err := client.GetJSON(context.Background(), "/api/test", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}
