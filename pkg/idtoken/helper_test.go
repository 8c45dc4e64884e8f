package idtoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// testIssuer はテスト用の発行者。
	testIssuer = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_TestPool"
	// testAudience はテスト用のクライアントID。
	testAudience = "test-client-id"
)

var (
	rsaKeyOnce sync.Once
	rsaKeys    []*rsa.PrivateKey
)

// testRSAKey はテスト用のRSA秘密鍵を返す。鍵生成は遅いためテスト全体で共有する。
func testRSAKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		for range 3 {
			k, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			rsaKeys = append(rsaKeys, k)
		}
	})
	return rsaKeys[i]
}

// testECKey はテスト用のECDSA秘密鍵を生成する。
func testECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ECDSA鍵の生成に失敗: %v", err)
	}
	return k
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// rsaJWK はRSA公開鍵をJWKに変換する。
func rsaJWK(kid string, pub *rsa.PublicKey) jsonWebKey {
	return jsonWebKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   b64(pub.N.Bytes()),
		E:   b64(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ecJWK はECDSA公開鍵をJWKに変換する。
func ecJWK(kid string, pub *ecdsa.PublicKey) jsonWebKey {
	return jsonWebKey{
		Kty: "EC",
		Kid: kid,
		Use: "sig",
		Alg: "ES256",
		Crv: "P-256",
		X:   b64(pub.X.FillBytes(make([]byte, 32))),
		Y:   b64(pub.Y.FillBytes(make([]byte, 32))),
	}
}

// jwksServer はテスト用のJWKSエンドポイント。
// 公開する鍵の差し替えと、停止状態の再現ができる。
type jwksServer struct {
	*httptest.Server
	mu   sync.Mutex
	keys []jsonWebKey
	down bool
	hits atomic.Int32
}

func newJWKSServer(t *testing.T, keys ...jsonWebKey) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": s.keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...jsonWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *jwksServer) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// validClaims は検証に成功するクレームを返す。
func validClaims(now time.Time, username, sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":              testIssuer,
		"aud":              testAudience,
		"token_use":        "id",
		"sub":              sub,
		"cognito:username": username,
		"iat":              now.Add(-time.Minute).Unix(),
		"exp":              now.Add(time.Hour).Unix(),
	}
}

// signToken はクレームに署名したトークンを返す。
func signToken(t *testing.T, method jwt.SigningMethod, kid string, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return s
}
