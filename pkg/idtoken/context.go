package idtoken

import "context"

// Identity は検証済みトークンから取り出した利用者の識別情報。
// リクエストの処理中だけ存在し、永続化しない。
type Identity struct {
	// Username は表示用のユーザー名。
	Username string
	// Subject は発行者が割り当てた不変の利用者ID（subクレーム）。
	Subject string
}

// contextKey はコンテキストキーの型。
type contextKey struct{}

// NewContext は検証済みの識別情報を持つコンテキストを返す。
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext はコンテキストから識別情報を取り出す。
// 設定されていない場合はfalseを返す。
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
