package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// postsCreatedTotal は保存に成功した投稿の累計数。
var postsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feed_posts_created_total",
	Help: "保存に成功した投稿の累計数",
})
