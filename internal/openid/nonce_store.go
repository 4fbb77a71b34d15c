package openid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// nonceTimestampLength はresponse_nonce先頭のUTCタイムスタンプ部分の長さ。
const nonceTimestampLength = len("2006-01-02T15:04:05Z")

// nonceKeyPrefix はRedis上のnonceキーの接頭辞。
const nonceKeyPrefix = "openid:nonce:"

// ErrNonceRejected はresponse_nonceが不正・期限切れ・再利用であることを表す。
var ErrNonceRejected = errors.New("openid nonce rejected")

// checkNonceTime はnonceのタイムスタンプが許容範囲内かを検証し、残り有効期間を返す。
func checkNonceTime(nonce string, now time.Time, maxAge time.Duration) (time.Duration, error) {
	if len(nonce) < nonceTimestampLength || len(nonce) > 255 {
		return 0, fmt.Errorf("%w: malformed nonce", ErrNonceRejected)
	}
	ts, err := time.Parse(time.RFC3339, nonce[:nonceTimestampLength])
	if err != nil {
		return 0, fmt.Errorf("%w: malformed nonce timestamp", ErrNonceRejected)
	}
	if ts.Before(now.Add(-maxAge)) {
		return 0, fmt.Errorf("%w: nonce too old", ErrNonceRejected)
	}
	if ts.After(now.Add(maxAge)) {
		return 0, fmt.Errorf("%w: nonce issued in the future", ErrNonceRejected)
	}
	// 期限切れで拒否されるまで保持すれば再利用を検出できる
	return ts.Add(maxAge).Sub(now) + time.Second, nil
}

// redisSetNX はRedisNonceStoreが使用するgo-redisの操作。
type redisSetNX interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisNonceStore はRedisのSETNXで使用済みnonceを記録するNonceStore。
// 複数インスタンスで同じRedisを共有すれば、どのインスタンスに戻ってきても再利用を検出できる。
type RedisNonceStore struct {
	client  redisSetNX
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewRedisNonceStore はRedisNonceStoreを生成する。
func NewRedisNonceStore(client redisSetNX, maxAge time.Duration) *RedisNonceStore {
	return &RedisNonceStore{
		client:  client,
		maxAge:  maxAge,
		timeout: 3 * time.Second,
		now:     time.Now,
	}
}

// Accept はnonceが未使用であれば記録してnilを返す。
func (s *RedisNonceStore) Accept(endpoint, nonce string) error {
	ttl, err := checkNonceTime(nonce, s.now(), s.maxAge)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ok, err := s.client.SetNX(ctx, nonceKeyPrefix+endpoint+"#"+nonce, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: nonce already used", ErrNonceRejected)
	}
	return nil
}

// MemoryNonceStore はプロセス内で使用済みnonceを記録するNonceStore。
// Redisを設定しない単一インスタンス構成で使用する。
type MemoryNonceStore struct {
	cache  *ttlcache.Cache[string, struct{}]
	maxAge time.Duration
	now    func() time.Time
}

// NewMemoryNonceStore はMemoryNonceStoreを生成する。期限切れの削除にはStartを呼ぶこと。
func NewMemoryNonceStore(maxAge time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		cache:  ttlcache.New[string, struct{}](ttlcache.WithDisableTouchOnHit[string, struct{}]()),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Accept はnonceが未使用であれば記録してnilを返す。
func (s *MemoryNonceStore) Accept(endpoint, nonce string) error {
	ttl, err := checkNonceTime(nonce, s.now(), s.maxAge)
	if err != nil {
		return err
	}
	_, loaded := s.cache.GetOrSet(endpoint+"#"+nonce, struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	if loaded {
		return fmt.Errorf("%w: nonce already used", ErrNonceRejected)
	}
	return nil
}

// Start は期限切れエントリの定期削除を開始する。Stopまでブロックする。
func (s *MemoryNonceStore) Start() { s.cache.Start() }

// Stop は定期削除を停止する。
func (s *MemoryNonceStore) Stop() { s.cache.Stop() }
