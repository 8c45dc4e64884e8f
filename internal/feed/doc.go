// Package feed はチャープ（短文投稿）のフィードサービスを提供する。
//
// 投稿の一覧取得は誰でも行えるが、投稿の作成にはIDプロバイダーが発行した
// IDトークンによる認証が必要。投稿者のユーザー名は必ず検証済みトークンから
// 取り出し、リクエストボディの値は使用しない。
//
// 投稿はStoreインターフェースを通じて永続化する。本番環境では
// PostgreSQL（PostgresStore）、ローカル開発とテストではSQLite（SQLiteStore）を使用する。
package feed
