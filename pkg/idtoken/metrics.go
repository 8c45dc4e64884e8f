package idtoken

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verificationsTotal はトークン検証の結果別件数。
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_token_verifications_total",
		Help: "number of id token verifications by result",
	}, []string{"result"})

	// refreshesTotal は鍵セット再取得の結果別件数。
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_jwks_refresh_total",
		Help: "number of jwks refresh attempts by result",
	}, []string{"result"})

	// cachedKeys は現在キャッシュしている署名鍵の数。
	cachedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_jwks_cached_keys",
		Help: "number of signing keys in the current jwks cache",
	})
)
