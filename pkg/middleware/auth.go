package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/chirp/pkg/idtoken"
	"go.uber.org/zap"
)

// TokenVerifier はBearerトークンを検証して利用者の識別情報を返す。
// idtoken.Verifierが実装する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (idtoken.Identity, error)
}

// bearerPrefix はAuthorizationヘッダーに要求するスキーム。
const bearerPrefix = "Bearer "

// IDTokenAuth はIDトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、識別情報をリクエストのコンテキストに設定してから次に進む。
// ヘッダーの欠落・形式不正・トークン不正はいずれも401で拒否する。
func IDTokenAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, bearerPrefix)
		if !found || tokenString == "" || strings.ContainsAny(tokenString, " \t") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			reason, _ := idtoken.ReasonOf(err)
			logger.Info("トークン検証に失敗",
				zap.String("reason", string(reason)),
				zap.String("request_id", RequestID(c)),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Request = c.Request.WithContext(idtoken.NewContext(c.Request.Context(), identity))
		c.Next()
	}
}

// IdentityFrom はリクエストのコンテキストから検証済みの識別情報を取得する。
// IDTokenAuthミドルウェアが事前に適用されている必要がある。
func IdentityFrom(c *gin.Context) (idtoken.Identity, bool) {
	return idtoken.FromContext(c.Request.Context())
}
