// Package config は環境変数からフィードサービスの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はフィードサービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8080"`
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// FrontendURLs はCORSで許可するオリジン。
	FrontendURLs []string `env:"FRONTEND_URLS" envSeparator:"," envDefault:"http://localhost:3000"`
	// Auth はIDトークン検証の設定。
	Auth AuthConfig `envPrefix:"AUTH_"`
	// Store は投稿ストアの設定。
	Store StoreConfig
}

// AuthConfig はIDプロバイダーとの信頼関係の設定。
type AuthConfig struct {
	// Issuer は信頼する発行者。空の場合はCognitoUserPoolIDから導出する。
	Issuer string `env:"ISSUER"`
	// CognitoUserPoolID はCognitoユーザープールID（例: us-east-1_AbCdEf）。
	CognitoUserPoolID string `env:"COGNITO_USER_POOL_ID"`
	// Audience は期待する対象者（アプリクライアントID）。
	Audience string `env:"AUDIENCE"`
	// TokenUse は期待するトークン用途。
	TokenUse string `env:"TOKEN_USE" envDefault:"id"`
	// UsernameClaim はユーザー名を保持するクレーム名。
	UsernameClaim string `env:"USERNAME_CLAIM" envDefault:"cognito:username"`
	// JWKSURL は鍵セットのURL。空の場合は発行者から導出する。
	JWKSURL string `env:"JWKS_URL"`
	// JWKSRefreshInterval は鍵セットの定期再取得間隔。
	JWKSRefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"1h"`
	// JWKSMinRefreshInterval は未知の鍵IDによる再取得の最小間隔。
	JWKSMinRefreshInterval time.Duration `env:"JWKS_MIN_REFRESH_INTERVAL" envDefault:"10s"`
}

// StoreConfig は投稿ストアの接続設定。
type StoreConfig struct {
	// Driver はストアの種類（sqlite または postgres）。
	Driver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	// Timeout は1回のストア操作のタイムアウト。
	Timeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	// SQLitePath はSQLiteデータベースファイルのパス。
	SQLitePath string `env:"SQLITE_PATH" envDefault:"/data/feed.db"`
	// Postgres はPostgreSQLの接続設定。
	Postgres PostgresConfig
}

// PostgresConfig はPostgreSQLの接続設定。
type PostgresConfig struct {
	Host     string `env:"DATABASE_HOST"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	Database string `env:"POSTGRES_DB"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"require"`
}

// DSN はpgxが解釈できる接続文字列を返す。
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Load は環境変数から設定を読み込み、導出値を補完して検証する。
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	if err := cfg.complete(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// complete は導出値を補完し、必須項目を検証する。
func (c *Config) complete() error {
	a := &c.Auth
	a.Issuer = strings.TrimRight(strings.TrimSpace(a.Issuer), "/")
	if a.Issuer == "" && a.CognitoUserPoolID != "" {
		issuer, err := CognitoIssuer(a.CognitoUserPoolID)
		if err != nil {
			return err
		}
		a.Issuer = issuer
	}
	if a.Issuer == "" {
		return errors.New("AUTH_ISSUER または AUTH_COGNITO_USER_POOL_ID が必要です")
	}
	if strings.TrimSpace(a.Audience) == "" {
		return errors.New("AUTH_AUDIENCE が必要です")
	}
	if a.JWKSURL == "" {
		a.JWKSURL = a.Issuer + "/.well-known/jwks.json"
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH が必要です")
		}
	case "postgres":
		p := c.Store.Postgres
		if p.Host == "" || p.User == "" || p.Database == "" {
			return errors.New("DATABASE_HOST, POSTGRES_USER, POSTGRES_DB が必要です")
		}
	default:
		return fmt.Errorf("未対応のSTORE_DRIVER: %q", c.Store.Driver)
	}
	return nil
}

// CognitoIssuer はCognitoユーザープールIDから発行者URLを導出する。
// プールIDは "<リージョン>_<ID>" の形式。
func CognitoIssuer(userPoolID string) (string, error) {
	region, _, found := strings.Cut(userPoolID, "_")
	if !found || region == "" {
		return "", fmt.Errorf("CognitoユーザープールIDの形式が不正: %q", userPoolID)
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID), nil
}
