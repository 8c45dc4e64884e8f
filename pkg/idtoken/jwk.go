package idtoken

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SigningKey はIDプロバイダーが公開する署名検証用の公開鍵。
// 取得後は変更せず、鍵セットの再取得時には新しい値で置き換える。
type SigningKey struct {
	// ID は鍵ID（kid）。
	ID string
	// Algorithm は鍵に宣言された署名アルゴリズム（例: "RS256"）。未宣言の場合は空。
	Algorithm string
	// Key は公開鍵本体（*rsa.PublicKey または *ecdsa.PublicKey）。
	Key crypto.PublicKey
}

// jsonWebKey はJWKSに含まれる1つの鍵のJSON表現。
type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// jsonWebKeySet はJWKSドキュメントのJSON表現。
// keysフィールド自体が無いドキュメントを区別するためポインタで保持する。
type jsonWebKeySet struct {
	Keys *[]jsonWebKey `json:"keys"`
}

// minRSABits は受け付けるRSA鍵の最小ビット長。
const minRSABits = 2048

// errUnsupportedKey は検証に使えない鍵であることを表す。
var errUnsupportedKey = errors.New("未対応の鍵")

// parseJSONWebKey はJWKを署名検証用の公開鍵に変換する。
func parseJSONWebKey(k jsonWebKey) (SigningKey, error) {
	if k.Kid == "" {
		return SigningKey{}, fmt.Errorf("%w: kidがない", errUnsupportedKey)
	}
	if k.Use != "" && k.Use != "sig" {
		return SigningKey{}, fmt.Errorf("%w: use=%s", errUnsupportedKey, k.Use)
	}

	switch k.Kty {
	case "RSA":
		pub, err := parseRSAKey(k)
		if err != nil {
			return SigningKey{}, err
		}
		return SigningKey{ID: k.Kid, Algorithm: k.Alg, Key: pub}, nil
	case "EC":
		pub, err := parseECKey(k)
		if err != nil {
			return SigningKey{}, err
		}
		return SigningKey{ID: k.Kid, Algorithm: k.Alg, Key: pub}, nil
	default:
		return SigningKey{}, fmt.Errorf("%w: kty=%s", errUnsupportedKey, k.Kty)
	}
}

func parseRSAKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := decodeBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("RSA鍵のnのデコードに失敗: %w", err)
	}
	e, err := decodeBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("RSA鍵のeのデコードに失敗: %w", err)
	}
	if n.BitLen() < minRSABits {
		return nil, fmt.Errorf("%w: RSA鍵長が短すぎる(%dビット)", errUnsupportedKey, n.BitLen())
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: RSA公開指数が不正", errUnsupportedKey)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseECKey(k jsonWebKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: crv=%s", errUnsupportedKey, k.Crv)
	}

	x, err := decodeBigInt(k.X)
	if err != nil {
		return nil, fmt.Errorf("EC鍵のxのデコードに失敗: %w", err)
	}
	y, err := decodeBigInt(k.Y)
	if err != nil {
		return nil, fmt.Errorf("EC鍵のyのデコードに失敗: %w", err)
	}
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: 曲線上にない点", errUnsupportedKey)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// decodeBigInt はbase64url（パディング無し）でエンコードされた整数をデコードする。
func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("値が空")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
