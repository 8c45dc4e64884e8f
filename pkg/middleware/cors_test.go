package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newCORSRouter はCORSを適用し、/api/chirps へのGETとPOSTを受け付けるルーターを生成する。
// handled はハンドラーが実行されたかどうかを記録する。
func newCORSRouter(origins []string, handled *bool) *gin.Engine {
	router := gin.New()
	router.Use(CORS(origins))
	h := func(c *gin.Context) {
		if handled != nil {
			*handled = true
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/api/chirps", h)
	router.POST("/api/chirps", h)
	router.OPTIONS("/api/chirps", h)
	return router
}

// doCORSRequest はOriginヘッダー付きのリクエストを実行する。originが空の場合はヘッダーを付けない。
func doCORSRequest(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/chirps", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	frontends := []string{"http://localhost:3000", "https://chirp.example.com"}

	for _, origin := range frontends {
		t.Run(origin+"からのリクエストにCORSヘッダーが設定されること", func(t *testing.T) {
			t.Parallel()

			handled := false
			w := doCORSRequest(newCORSRouter(frontends, &handled), http.MethodGet, origin)

			if w.Code != http.StatusOK || !handled {
				t.Fatalf("ステータスコード = %d, handled = %v, want 200/true", w.Code, handled)
			}
			want := map[string]string{
				"Access-Control-Allow-Origin":  origin,
				"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
				"Access-Control-Allow-Headers": "Authorization, Content-Type",
				"Access-Control-Max-Age":       "86400",
				"Vary":                         "Origin",
			}
			for k, v := range want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}

	noHeader := map[string]struct {
		origins []string
		origin  string
	}{
		"許可されていないオリジン": {origins: frontends, origin: "https://evil.example.com"},
		"Originヘッダー無し":  {origins: frontends, origin: ""},
		"空の許可リスト":      {origins: nil, origin: "http://localhost:3000"},
	}
	for name, tc := range noHeader {
		t.Run(name+"ではCORSヘッダーを設定せずに処理を続けること", func(t *testing.T) {
			t.Parallel()

			handled := false
			w := doCORSRequest(newCORSRouter(tc.origins, &handled), http.MethodPost, tc.origin)

			if !handled {
				t.Error("ハンドラーが実行されなかった")
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
			}
		})
	}

	t.Run("プリフライトは204を返しハンドラーを実行しないこと", func(t *testing.T) {
		t.Parallel()

		for _, origin := range []string{"http://localhost:3000", "https://evil.example.com"} {
			handled := false
			w := doCORSRequest(newCORSRouter(frontends, &handled), http.MethodOptions, origin)

			if w.Code != http.StatusNoContent {
				t.Errorf("%s: ステータスコード = %d, want %d", origin, w.Code, http.StatusNoContent)
			}
			if handled {
				t.Errorf("%s: プリフライトでハンドラーが実行された", origin)
			}
		}
	})
}

// TestCORSWildcard は "*" 指定時の挙動を検証する。
func TestCORSWildcard(t *testing.T) {
	t.Parallel()

	t.Run("任意のオリジンを許可すること", func(t *testing.T) {
		t.Parallel()

		w := doCORSRequest(newCORSRouter([]string{"*"}, nil), http.MethodGet, "https://any.example.com")

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://any.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://any.example.com")
		}
	})

	t.Run("Originヘッダーが無ければCORSヘッダーを設定しないこと", func(t *testing.T) {
		t.Parallel()

		w := doCORSRequest(newCORSRouter([]string{"*"}, nil), http.MethodGet, "")

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})
}
