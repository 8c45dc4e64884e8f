// フィードサービスのエントリポイント。
// 投稿の一覧取得と、IDトークンで認証された利用者による投稿作成を提供する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/nao1215/chirp/internal/config"
	"github.com/nao1215/chirp/internal/feed"
	"github.com/nao1215/chirp/pkg/idtoken"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("フィードサービスの起動に失敗", zap.Error(err))
	}
	logger.Info("フィードサービスを停止しました")
}

// run は依存関係を組み立ててサーバーを起動し、ctxが終了するまでブロックする。
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	// テーブル作成に失敗しても起動は続ける。読み書き時にエラーとして扱う
	schemaCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		logger.Error("スキーマの初期化に失敗", zap.Error(err))
	}
	cancel()

	keys, err := idtoken.NewKeyProvider(idtoken.KeyProviderConfig{
		JWKSURL:            cfg.Auth.JWKSURL,
		RefreshInterval:    cfg.Auth.JWKSRefreshInterval,
		MinRefreshInterval: cfg.Auth.JWKSMinRefreshInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("鍵プロバイダーの初期化に失敗: %w", err)
	}
	if err := keys.Refresh(ctx); err != nil {
		logger.Warn("鍵セットの初回取得に失敗。最初の認証時に再取得する",
			zap.String("jwks_url", cfg.Auth.JWKSURL),
			zap.Error(err),
		)
	}
	go keys.Run(ctx)

	verifier, err := idtoken.NewVerifier(idtoken.VerifierConfig{
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		TokenUse:      cfg.Auth.TokenUse,
		UsernameClaim: cfg.Auth.UsernameClaim,
	}, keys)
	if err != nil {
		return fmt.Errorf("トークン検証器の初期化に失敗: %w", err)
	}

	server := feed.NewServer(feed.ServerConfig{
		Port:           cfg.Port,
		AllowedOrigins: cfg.FrontendURLs,
		StoreTimeout:   cfg.Store.Timeout,
		Keys:           keys,
	}, store, verifier, logger)

	logger.Info("フィードサービスを起動します",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("issuer", cfg.Auth.Issuer),
	)
	return server.Run(ctx)
}

// openStore は設定に応じたストアを開く。
func openStore(ctx context.Context, cfg config.StoreConfig) (feed.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := feed.OpenPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("PostgreSQLストアの初期化に失敗: %w", err)
		}
		return store, nil
	default:
		store, err := feed.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("SQLiteストアの初期化に失敗: %w", err)
		}
		return store, nil
	}
}

// newLogger は指定されたレベルのJSONロガーを生成する。
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("ログレベルが不正: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
