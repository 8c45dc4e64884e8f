package feed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore はSQLiteを使うStoreの実装。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite はSQLiteデータベースを開く。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// インメモリDBは接続ごとに別のデータベースになるため1接続に限定する
		db.SetMaxOpenConns(1)
	}
	return &SQLiteStore{db: db}, nil
}

// EnsureSchema はchirpsテーブルが無ければ作成する。
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return storageError("スキーマの適用に失敗", err)
	}
	return nil
}

// Append は投稿を保存する。
func (s *SQLiteStore) Append(ctx context.Context, username, content string) (Post, error) {
	const q = `
	INSERT INTO chirps (username, content)
	VALUES (?, ?)
	RETURNING id, username, content, timestamp`

	var (
		p  Post
		ts string
	)
	if err := s.db.QueryRowContext(ctx, q, username, content).Scan(&p.ID, &p.Username, &p.Content, &ts); err != nil {
		return Post{}, storageError("投稿の保存に失敗", err)
	}
	t, err := parseSQLiteTime(ts)
	if err != nil {
		return Post{}, storageError("作成日時の解析に失敗", err)
	}
	p.Timestamp = t
	return p, nil
}

// List はすべての投稿を新しい順に返す。
func (s *SQLiteStore) List(ctx context.Context) ([]Post, error) {
	const q = `
	SELECT id, username, content, timestamp
	FROM chirps
	ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storageError("投稿一覧の取得に失敗", err)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		var (
			p  Post
			ts string
		)
		if err := rows.Scan(&p.ID, &p.Username, &p.Content, &ts); err != nil {
			return nil, storageError("投稿の読み取りに失敗", err)
		}
		if p.Timestamp, err = parseSQLiteTime(ts); err != nil {
			return nil, storageError("作成日時の解析に失敗", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("投稿一覧の取得に失敗", err)
	}
	return posts, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
