package idtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/chirp/pkg/httpclient"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound は指定された鍵IDが鍵セットに存在しないことを表す。
var ErrKeyNotFound = errors.New("署名鍵が見つからない")

// State は鍵キャッシュの状態。
type State int32

const (
	// StateEmpty は一度も鍵セットを取得できていない状態。
	StateEmpty State = iota
	// StateFresh は最新の鍵セットを保持している状態。
	StateFresh
	// StateStaleOnMiss は未知の鍵IDを受け取った、または再取得に失敗して
	// 保持している鍵セットが古い可能性がある状態。
	StateStaleOnMiss
	// StateRefreshing は鍵セットを再取得している状態。
	StateRefreshing
)

// String は状態の名前を返す。
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFresh:
		return "fresh"
	case StateStaleOnMiss:
		return "stale_on_miss"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// KeyProviderConfig はKeyProviderの設定。
type KeyProviderConfig struct {
	// JWKSURL は鍵セットを公開しているURL。
	JWKSURL string
	// RefreshInterval は定期的な再取得の間隔。0以下の場合は定期再取得しない。
	RefreshInterval time.Duration
	// MinRefreshInterval は未知の鍵IDによる再取得を行う最小間隔。
	// 0の場合は未知の鍵IDを受け取るたびに再取得する。
	MinRefreshInterval time.Duration
	// HTTPTimeout は鍵セット取得のタイムアウト。0の場合はhttpclientの既定値。
	HTTPTimeout time.Duration
}

// jwksFetcher は鍵セットのJSONドキュメントを取得する。
type jwksFetcher interface {
	GetJSON(ctx context.Context, path string, result any) error
}

// keySet はある時点で取得した鍵セット。作成後は変更しない。
type keySet struct {
	keys map[string]SigningKey
	// requestedAt は取得を開始した時刻。
	requestedAt time.Time
	// fetchedAt は取得を完了した時刻。
	fetchedAt time.Time
}

// KeyProvider はIDプロバイダーの署名鍵を取得・キャッシュする。
// 鍵セットはアトミックに丸ごと置き換えるため、再取得中に参照しても
// 古いセットか新しいセットのどちらか一方だけが見える。
type KeyProvider struct {
	// fetcher は鍵セットの取得に使うクライアント。
	fetcher jwksFetcher
	// refreshInterval は定期再取得の間隔。
	refreshInterval time.Duration
	// minRefreshInterval は未知の鍵IDによる再取得の最小間隔。
	minRefreshInterval time.Duration
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
	// logger はロガー。
	logger *zap.Logger

	// set は現在の鍵セット。nilは未取得を表す。
	set atomic.Pointer[keySet]
	// state は現在の状態（State）。
	state atomic.Int32
	// group は同時に発生した再取得を1回のHTTPリクエストにまとめる。
	group singleflight.Group

	// mu はmissBlockedUntilを保護する。
	mu sync.Mutex
	// missBlockedUntil は未知の鍵IDによる再取得を控える期限。
	// 再取得しても鍵IDが見つからなかったときにだけ設定する。
	missBlockedUntil time.Time
}

// NewKeyProvider は新しいKeyProviderを生成する。
// 生成時には鍵セットを取得しない。起動時にRefreshを呼ぶこと。
func NewKeyProvider(cfg KeyProviderConfig, logger *zap.Logger) (*KeyProvider, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("JWKSのURLが設定されていない")
	}
	var opts []httpclient.Option
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.HTTPTimeout))
	}
	return newKeyProvider(httpclient.New(cfg.JWKSURL, opts...), cfg, logger), nil
}

func newKeyProvider(fetcher jwksFetcher, cfg KeyProviderConfig, logger *zap.Logger) *KeyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyProvider{
		fetcher:            fetcher,
		refreshInterval:    cfg.RefreshInterval,
		minRefreshInterval: cfg.MinRefreshInterval,
		now:                time.Now,
		logger:             logger.Named("jwks"),
	}
}

// State は現在の鍵キャッシュの状態を返す。
func (p *KeyProvider) State() State {
	return State(p.state.Load())
}

// FetchedAt は現在の鍵セットを取得した時刻を返す。未取得の場合はゼロ値。
func (p *KeyProvider) FetchedAt() time.Time {
	if set := p.set.Load(); set != nil {
		return set.fetchedAt
	}
	return time.Time{}
}

// Key は鍵IDに対応する署名鍵を返す。
// キャッシュに無い場合は鍵セットを再取得してから再度探す。
// それでも見つからない場合はErrKeyNotFoundを返し、MinRefreshIntervalの間は
// 未知の鍵IDによる再取得を行わない。
func (p *KeyProvider) Key(ctx context.Context, kid string) (SigningKey, error) {
	if k, ok := p.lookup(kid); ok {
		return k, nil
	}

	p.state.CompareAndSwap(int32(StateFresh), int32(StateStaleOnMiss))
	if !p.missRefreshAllowed() {
		return SigningKey{}, fmt.Errorf("%w: kid=%s", ErrKeyNotFound, kid)
	}

	missAt := p.now()
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("未知の鍵IDによる鍵セットの再取得に失敗", zap.String("kid", kid), zap.Error(err))
	} else if _, ok := p.lookup(kid); !ok && p.requestedBefore(missAt) {
		// 合流した取得が鍵IDを受け取る前に始まっていたため、もう一度取得する
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("未知の鍵IDによる鍵セットの再取得に失敗", zap.String("kid", kid), zap.Error(err))
		}
	}

	if k, ok := p.lookup(kid); ok {
		return k, nil
	}
	p.blockMissRefresh()
	return SigningKey{}, fmt.Errorf("%w: kid=%s", ErrKeyNotFound, kid)
}

// Refresh は鍵セットを再取得して現在のセットを置き換える。
// 同時に呼ばれた場合はHTTPリクエストを1回にまとめる。
// 取得に失敗した場合は以前の鍵セットをそのまま使い続ける。
func (p *KeyProvider) Refresh(ctx context.Context) error {
	// 呼び出し元のキャンセルで他の待機者の取得が中断されないよう、キャンセルを切り離す
	fetchCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("jwks", func() (any, error) {
		return nil, p.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run はctxがキャンセルされるまで定期的に鍵セットを再取得する。
func (p *KeyProvider) Run(ctx context.Context) {
	if p.refreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("鍵セットの定期再取得に失敗。以前の鍵セットを使い続ける", zap.Error(err))
			}
		}
	}
}

// lookup は現在の鍵セットから鍵を探す。
func (p *KeyProvider) lookup(kid string) (SigningKey, bool) {
	set := p.set.Load()
	if set == nil {
		return SigningKey{}, false
	}
	k, ok := set.keys[kid]
	return k, ok
}

// missRefreshAllowed は未知の鍵IDによる再取得を行ってよいかを判定する。
// 起動時や定期的な再取得はこの判定に影響しない。
func (p *KeyProvider) missRefreshAllowed() bool {
	if p.minRefreshInterval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.now().Before(p.missBlockedUntil)
}

// blockMissRefresh は再取得しても見つからなかった鍵IDのために、
// MinRefreshIntervalの間だけ未知の鍵IDによる再取得を止める。
func (p *KeyProvider) blockMissRefresh() {
	if p.minRefreshInterval <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missBlockedUntil = p.now().Add(p.minRefreshInterval)
}

// requestedBefore は現在の鍵セットの取得がtより前に始まったかを返す。
func (p *KeyProvider) requestedBefore(t time.Time) bool {
	set := p.set.Load()
	return set != nil && set.requestedAt.Before(t)
}

// fetch は鍵セットを取得して現在のセットを置き換える。
func (p *KeyProvider) fetch(ctx context.Context) error {
	requestedAt := p.now()
	p.state.Store(int32(StateRefreshing))

	set, err := p.download(ctx)
	if err != nil {
		refreshesTotal.WithLabelValues("failure").Inc()
		if p.set.Load() == nil {
			p.state.Store(int32(StateEmpty))
		} else {
			p.state.Store(int32(StateStaleOnMiss))
		}
		return err
	}

	set.requestedAt = requestedAt
	p.set.Store(set)
	p.state.Store(int32(StateFresh))
	refreshesTotal.WithLabelValues("success").Inc()
	cachedKeys.Set(float64(len(set.keys)))
	p.logger.Info("鍵セットを更新しました", zap.Int("keys", len(set.keys)))
	return nil
}

// download はJWKSドキュメントを取得して鍵セットに変換する。
// 使用できない鍵は読み飛ばす。
func (p *KeyProvider) download(ctx context.Context) (*keySet, error) {
	var doc jsonWebKeySet
	if err := p.fetcher.GetJSON(ctx, "", &doc); err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New("JWKSにkeysフィールドがない")
	}

	keys := make(map[string]SigningKey, len(*doc.Keys))
	for _, jwk := range *doc.Keys {
		k, err := parseJSONWebKey(jwk)
		if err != nil {
			p.logger.Warn("使用できない鍵を読み飛ばす", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		if _, dup := keys[k.ID]; dup {
			p.logger.Warn("重複した鍵IDを読み飛ばす", zap.String("kid", k.ID))
			continue
		}
		keys[k.ID] = k
	}

	return &keySet{keys: keys, fetchedAt: p.now()}, nil
}
