package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirp/pkg/idtoken"
	"github.com/nao1215/chirp/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// maxRequestBodyBytes は投稿リクエストボディの上限。
	maxRequestBodyBytes = 100 << 10
	// defaultStoreTimeout はストア操作の既定タイムアウト。
	defaultStoreTimeout = 5 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 10 * time.Second
)

// KeyStatus は鍵キャッシュの状態を報告する。
// ヘルスチェックで使用する。*idtoken.KeyProvider が満たす。
type KeyStatus interface {
	State() idtoken.State
	FetchedAt() time.Time
}

// ServerConfig はフィードサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// StoreTimeout は1回のストア操作のタイムアウト。0の場合は5秒。
	StoreTimeout time.Duration
	// Keys は鍵キャッシュ。nilの場合はヘルスチェックに鍵の状態を含めない。
	Keys KeyStatus
}

// Server はフィードサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は投稿の永続化層。
	store Store
	// verifier は投稿時のIDトークン検証器。
	verifier middleware.TokenVerifier
	// keys は鍵キャッシュの状態。
	keys KeyStatus
	// logger は構造化ロガー。
	logger *zap.Logger
	// storeTimeout は1回のストア操作のタイムアウト。
	storeTimeout time.Duration
}

// NewServer は新しいフィードサーバーを生成する。
func NewServer(cfg ServerConfig, store Store, verifier middleware.TokenVerifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:       router,
		port:         cfg.Port,
		store:        store,
		verifier:     verifier,
		keys:         cfg.Keys,
		logger:       logger,
		storeTimeout: timeout,
	}
	s.setupRoutes()

	return s
}

// Handler はルーティング済みのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 疎通確認
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "connection accepted"})
	})

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	// メトリクス
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chirps := s.router.Group("/api/chirps")
	{
		// 投稿一覧取得
		chirps.GET("", s.handleList())
		// 投稿作成
		chirps.POST("", middleware.IDTokenAuth(s.verifier, s.logger), s.handleCreate())
	}
}

// createChirpRequest は投稿作成リクエストのJSON構造。
type createChirpRequest struct {
	// Content は投稿本文。
	Content string `json:"content" binding:"required"`
}

// handleHealth はヘルスチェックを処理するハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "service": "feed"}
		if s.keys != nil {
			jwks := gin.H{"state": s.keys.State().String()}
			if at := s.keys.FetchedAt(); !at.IsZero() {
				jwks["fetched_at"] = at.UTC().Format(time.RFC3339)
			}
			body["jwks"] = jwks
		}
		c.JSON(http.StatusOK, body)
	}
}

// handleList は投稿一覧取得を処理するハンドラを返す。
// 投稿が無い場合も空配列を返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.storeTimeout)
		defer cancel()

		posts, err := s.store.List(ctx)
		if err != nil {
			s.logger.Error("投稿一覧の取得に失敗",
				zap.Error(err),
				zap.String("request_id", middleware.RequestID(c)),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			return
		}
		if posts == nil {
			posts = []Post{}
		}

		c.JSON(http.StatusOK, posts)
	}
}

// handleCreate は投稿作成を処理するハンドラを返す。
// 投稿者は認証済みの識別情報から決まる。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
		var req createChirpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if err := validateContent(req.Content); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// クライアントが切断しても書き込みは最後まで行う
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.storeTimeout)
		defer cancel()

		post, err := s.store.Append(ctx, identity.Username, req.Content)
		if err != nil {
			s.logger.Error("投稿の保存に失敗",
				zap.Error(err),
				zap.String("request_id", middleware.RequestID(c)),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の作成に失敗しました"})
			return
		}
		postsCreatedTotal.Inc()

		c.JSON(http.StatusCreated, post)
	}
}

// validateContent は投稿本文を検証する。返すエラーはそのままクライアントに返してよい。
func validateContent(content string) error {
	if !utf8.ValidString(content) {
		return errors.New("本文がUTF-8として不正です")
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("本文が空です")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("本文は%d文字以内にしてください", MaxContentLength)
	}
	return nil
}
