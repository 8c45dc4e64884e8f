package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// maxUsernameLength はユーザー名の最大文字数。スキーマの制約と一致させる。
	maxUsernameLength = 50
	// MaxContentLength は投稿本文の最大文字数。
	MaxContentLength = 280
)

// ErrStorage はストアの読み書きに失敗したことを示す。
var ErrStorage = errors.New("ストレージエラー")

// Post はフィードに表示される1件の投稿。作成後は変更されない。
type Post struct {
	// ID はストアが採番する一意識別子。
	ID int64 `json:"id"`
	// Username は投稿者のユーザー名。
	Username string `json:"username"`
	// Content は投稿本文。
	Content string `json:"content"`
	// Timestamp はストアが記録した作成日時（UTC）。
	Timestamp time.Time `json:"timestamp"`
}

// Store は投稿の永続化層。
type Store interface {
	// EnsureSchema はテーブルが無ければ作成する。何度呼んでもよく、並行実行しても失敗しない。
	EnsureSchema(ctx context.Context) error
	// Append は投稿を保存し、採番されたIDと作成日時を含む投稿を返す。
	Append(ctx context.Context, username, content string) (Post, error)
	// List はすべての投稿を新しい順に返す。作成日時が同じ場合はIDの降順。
	List(ctx context.Context) ([]Post, error)
	// Close は接続を解放する。
	Close() error
}

// storageError はドライバーのエラーをErrStorageでラップする。
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
