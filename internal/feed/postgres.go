package feed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore はPostgreSQLを使うStoreの実装。
type PostgresStore struct {
	// pool はPostgreSQLのコネクションプール。
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres はPostgreSQLへのコネクションプールを作成する。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("接続文字列の解析に失敗: %w", err)
	}
	cfg.MaxConns = 10
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema はchirpsテーブルが無ければ作成する。
// 複数のプロセスが同時に起動してもCREATE同士が衝突しないよう、
// トランザクションスコープのアドバイザリロックで直列化する。
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageError("トランザクションの開始に失敗", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
		return storageError("スキーマロックの取得に失敗", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return storageError("スキーマの適用に失敗", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storageError("スキーマのコミットに失敗", err)
	}
	return nil
}

// Append は投稿を保存する。
func (s *PostgresStore) Append(ctx context.Context, username, content string) (Post, error) {
	const q = `
	INSERT INTO chirps (username, content)
	VALUES ($1, $2)
	RETURNING id, username, content, timestamp`

	var p Post
	if err := s.pool.QueryRow(ctx, q, username, content).Scan(&p.ID, &p.Username, &p.Content, &p.Timestamp); err != nil {
		return Post{}, storageError("投稿の保存に失敗", err)
	}
	p.Timestamp = p.Timestamp.UTC()
	return p, nil
}

// List はすべての投稿を新しい順に返す。
func (s *PostgresStore) List(ctx context.Context) ([]Post, error) {
	const q = `
	SELECT id, username, content, timestamp
	FROM chirps
	ORDER BY timestamp DESC, id DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, storageError("投稿一覧の取得に失敗", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Post, error) {
		var p Post
		err := row.Scan(&p.ID, &p.Username, &p.Content, &p.Timestamp)
		p.Timestamp = p.Timestamp.UTC()
		return p, err
	})
	if err != nil {
		return nil, storageError("投稿の読み取りに失敗", err)
	}
	if posts == nil {
		posts = make([]Post, 0)
	}
	return posts, nil
}

// Close はコネクションプールを閉じる。
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
