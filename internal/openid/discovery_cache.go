package openid

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/yohcop/openid-go"
)

// TTLDiscoveryCache はディスカバリー結果を一定時間保持するDiscoveryCache。
// 期限はPut時点から数え、参照しても延長しない。
type TTLDiscoveryCache struct {
	cache *ttlcache.Cache[string, openid.DiscoveredInfo]
}

// NewTTLDiscoveryCache はTTLDiscoveryCacheを生成する。期限切れの削除にはStartを呼ぶこと。
func NewTTLDiscoveryCache(ttl time.Duration) *TTLDiscoveryCache {
	return &TTLDiscoveryCache{
		cache: ttlcache.New[string, openid.DiscoveredInfo](
			ttlcache.WithTTL[string, openid.DiscoveredInfo](ttl),
			ttlcache.WithDisableTouchOnHit[string, openid.DiscoveredInfo](),
		),
	}
}

// Put はディスカバリー結果を保存する。
func (c *TTLDiscoveryCache) Put(id string, info openid.DiscoveredInfo) {
	c.cache.Set(id, info, ttlcache.DefaultTTL)
}

// Get はディスカバリー結果を返す。未登録・期限切れの場合はnilを返す。
func (c *TTLDiscoveryCache) Get(id string) openid.DiscoveredInfo {
	item := c.cache.Get(id)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Len は保持している件数を返す。
func (c *TTLDiscoveryCache) Len() int {
	return c.cache.Len()
}

// Start は期限切れエントリの定期削除を開始する。Stopまでブロックする。
func (c *TTLDiscoveryCache) Start() { c.cache.Start() }

// Stop は定期削除を停止する。
func (c *TTLDiscoveryCache) Stop() { c.cache.Stop() }

var _ openid.DiscoveryCache = (*TTLDiscoveryCache)(nil)
