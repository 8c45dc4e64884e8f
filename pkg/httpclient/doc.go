// Package httpclient は外部エンドポイントからJSONドキュメントを取得するクライアントを提供する。
//
// IDプロバイダーが公開する署名鍵セット（JWKS）の取得に使用する。
// タイムアウトとレスポンスサイズの上限を持ち、取得処理の失敗を
// 呼び出し元が区別できるエラーとして返す。
package httpclient
