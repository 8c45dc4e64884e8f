// Package idtoken は外部IDプロバイダーが発行したIDトークンの検証を提供する。
//
// IDプロバイダーが公開する署名鍵セット（JWKS）を取得・キャッシュする
// KeyProviderと、トークンの署名・発行者・対象者・用途・有効期限を
// 順に検証して利用者の識別情報を取り出すVerifierを含む。
//
// 鍵のローテーションに対応するため、未知の鍵IDを持つトークンを受け取った
// 場合は鍵セットを再取得してから判定する。再取得した鍵セットは以前の
// セットを丸ごと置き換えるため、公開されなくなった鍵は即座に使えなくなる。
package idtoken
