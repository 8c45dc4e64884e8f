package idtoken

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンが無効であることを表す。
// どの検証で失敗したかは呼び出し元に区別させない。
var ErrInvalidToken = errors.New("トークンが無効")

// Reason はトークン検証に失敗した原因。ログ出力用で、クライアントには返さない。
type Reason string

const (
	ReasonMalformed   Reason = "malformed"
	ReasonSignature   Reason = "signature"
	ReasonIssuer      Reason = "issuer"
	ReasonAudience    Reason = "audience"
	ReasonTokenUse    Reason = "token_use"
	ReasonExpired     Reason = "expired"
	ReasonNotYetValid Reason = "not_yet_valid"
	ReasonIdentity    Reason = "identity"
)

// InvalidTokenError は検証失敗の原因を保持するエラー。
// errors.Is(err, ErrInvalidToken) はtrueを返す。
type InvalidTokenError struct {
	// Reason は失敗した検証。
	Reason Reason
	// Err は下位のエラー。無い場合はnil。
	Err error
}

func (e *InvalidTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", ErrInvalidToken, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s)", ErrInvalidToken, e.Reason)
}

// Is はErrInvalidTokenとの比較を可能にする。
func (e *InvalidTokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

// Unwrap は下位のエラーを返す。
func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// ReasonOf はエラーから検証失敗の原因を取り出す。
func ReasonOf(err error) (Reason, bool) {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason, true
	}
	return "", false
}

func invalid(reason Reason, err error) error {
	return &InvalidTokenError{Reason: reason, Err: err}
}

// KeySource は鍵IDから署名鍵を取得する。KeyProviderが実装する。
type KeySource interface {
	Key(ctx context.Context, kid string) (SigningKey, error)
}

// supportedAlgorithms は署名検証で受け付けるアルゴリズム。
// 対称鍵方式とnoneは受け付けない。
var supportedAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// DefaultUsernameClaim はユーザー名を保持するクレームの既定値。
const DefaultUsernameClaim = "cognito:username"

// VerifierConfig はトークン検証の信頼関係の設定。
type VerifierConfig struct {
	// Issuer は信頼する発行者（issクレーム）。
	Issuer string
	// Audience は期待する対象者（audクレーム、またはclient_idクレーム）。
	Audience string
	// TokenUse は期待するトークン用途（token_useクレーム）。例: "id"
	TokenUse string
	// UsernameClaim はユーザー名を保持するクレーム名。空の場合はDefaultUsernameClaim。
	UsernameClaim string
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Verifier はIDトークンを検証する。複数のgoroutineから同時に使用できる。
type Verifier struct {
	cfg    VerifierConfig
	keys   KeySource
	parser *jwt.Parser
}

// NewVerifier は新しいVerifierを生成する。
func NewVerifier(cfg VerifierConfig, keys KeySource) (*Verifier, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.TokenUse = strings.TrimSpace(cfg.TokenUse)
	if cfg.Issuer == "" {
		return nil, errors.New("信頼する発行者が設定されていない")
	}
	if cfg.Audience == "" {
		return nil, errors.New("期待する対象者が設定されていない")
	}
	if cfg.TokenUse == "" {
		return nil, errors.New("期待するトークン用途が設定されていない")
	}
	if keys == nil {
		return nil, errors.New("鍵の取得元が設定されていない")
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = DefaultUsernameClaim
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Verifier{
		cfg:  cfg,
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(supportedAlgorithms),
			// クレームは署名検証後に順番どおり自前で検証する
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Verify はトークンを検証し、利用者の識別情報を返す。
// 検証は構造、署名、発行者、対象者、用途、有効期限の順に行い、
// 最初に失敗した時点でErrInvalidTokenを返す。
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	id, err := v.verify(ctx, token)
	if err != nil {
		reason, _ := ReasonOf(err)
		verificationsTotal.WithLabelValues(string(reason)).Inc()
		return Identity{}, err
	}
	verificationsTotal.WithLabelValues("valid").Inc()
	return id, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (Identity, error) {
	if !wellFormed(token) {
		return Identity{}, invalid(ReasonMalformed, nil)
	}

	parsed, err := v.parser.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kidヘッダーがない")
		}
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("鍵のアルゴリズム(%s)とトークンのアルゴリズム(%s)が一致しない", key.Algorithm, t.Method.Alg())
		}
		return key.Key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Identity{}, invalid(ReasonMalformed, err)
		}
		return Identity{}, invalid(ReasonSignature, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, invalid(ReasonMalformed, errors.New("クレームの形式が不正"))
	}

	if iss, err := claims.GetIssuer(); err != nil || iss != v.cfg.Issuer {
		return Identity{}, invalid(ReasonIssuer, err)
	}
	if !v.audienceMatches(claims) {
		return Identity{}, invalid(ReasonAudience, nil)
	}
	if use, _ := claims["token_use"].(string); use != v.cfg.TokenUse {
		return Identity{}, invalid(ReasonTokenUse, nil)
	}

	now := v.cfg.Now()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Identity{}, invalid(ReasonExpired, err)
	}
	if !now.Before(exp.Time) {
		return Identity{}, invalid(ReasonExpired, nil)
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return Identity{}, invalid(ReasonNotYetValid, err)
	}
	if nbf != nil && now.Before(nbf.Time) {
		return Identity{}, invalid(ReasonNotYetValid, nil)
	}

	username, _ := claims[v.cfg.UsernameClaim].(string)
	subject, _ := claims.GetSubject()
	if username == "" || subject == "" {
		return Identity{}, invalid(ReasonIdentity, nil)
	}

	return Identity{Username: username, Subject: subject}, nil
}

// audienceMatches はaudクレーム、無い場合はclient_idクレームが期待値と一致するかを返す。
func (v *Verifier) audienceMatches(claims jwt.MapClaims) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	if len(aud) > 0 {
		return slices.Contains(aud, v.cfg.Audience)
	}
	clientID, _ := claims["client_id"].(string)
	return clientID != "" && clientID == v.cfg.Audience
}

// wellFormed はトークンが空でない3つの部分から成るかを返す。
func wellFormed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
