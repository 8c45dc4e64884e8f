// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// IDトークンによる認証、リクエストIDの付与とアクセスログ、
// パニックリカバリ、CORS設定を含む。
package middleware
