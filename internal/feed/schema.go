package feed

// sqliteSchema はSQLite用のスキーマ定義。
// 列の制約はpostgresSchemaと揃えている。
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chirps (
    -- 投稿の一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- 投稿者のユーザー名
    username TEXT NOT NULL CHECK (length(username) <= 50),
    -- 投稿本文
    content TEXT NOT NULL CHECK (length(content) BETWEEN 1 AND 280),
    -- 作成日時（RFC 3339、UTC、ミリ秒精度）
    timestamp TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

-- 新しい順の一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_chirps_timestamp
    ON chirps(timestamp DESC, id DESC);
`

// postgresSchema はPostgreSQL用のスキーマ定義。1要素が1文。
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chirps (
    id SERIAL PRIMARY KEY,
    username VARCHAR(50) NOT NULL,
    content VARCHAR(280) NOT NULL CHECK (char_length(content) >= 1),
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_chirps_timestamp
    ON chirps (timestamp DESC, id DESC)`,
}

// schemaLockID はスキーマ作成を直列化するアドバイザリロックのキー。
const schemaLockID int64 = 0x63686972705f7631
