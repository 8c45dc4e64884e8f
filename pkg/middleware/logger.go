package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// headerKeyRequestID はリクエストIDを伝播するためのHTTPヘッダーキー。
const headerKeyRequestID = "X-Request-ID"

// contextKeyRequestID はGinコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID = "request_id"

// maxRequestIDLength はクライアントから受け付けるリクエストIDの最大長。
const maxRequestIDLength = 128

// Logger はリクエストIDの付与とアクセスログの出力を行うGinミドルウェアを返す。
// クライアントがX-Request-IDを送らなかった場合はUUIDを発行する。
func Logger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(headerKeyRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header(headerKeyRequestID, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestID),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("リクエスト処理", fields...)
		case status >= 400:
			logger.Warn("リクエスト処理", fields...)
		default:
			logger.Info("リクエスト処理", fields...)
		}
	}
}

// RequestID はGinコンテキストからリクエストIDを取得する。
// Loggerミドルウェアが適用されていない場合は空文字列を返す。
func RequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
