// Package cache はセッション有効性の参照結果をキャッシュする。
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL はTTL未指定時のキャッシュ有効期間。
const DefaultTTL = 5 * time.Minute

// SessionCache はセッショントークンの有効性をキャッシュするインターフェース。
// キャッシュに存在するトークンは、直近でストア上の有効なセッションとして確認済みであることを表す。
type SessionCache interface {
	Get(ctx context.Context, token string) (bool, error)
	Set(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) error
}

// MemorySessionCache はプロセス内のLRUで保持するSessionCache。
// Redisを使わない単一インスタンス構成で使用する。
// 容量を超えると最も長く参照されていないトークンから追い出す。
type MemorySessionCache struct {
	lru *expirable.LRU[string, struct{}]
}

// NewMemorySessionCache はMemorySessionCacheを生成する。
// ttlが0以下の場合はDefaultTTL、maxSizeが0以下の場合は500を使用する。
func NewMemorySessionCache(ttl time.Duration, maxSize int) *MemorySessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = 500
	}
	return &MemorySessionCache{
		lru: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

func (c *MemorySessionCache) Get(_ context.Context, token string) (bool, error) {
	_, ok := c.lru.Get(token)
	return ok, nil
}

func (c *MemorySessionCache) Set(_ context.Context, token string) error {
	c.lru.Add(token, struct{}{})
	return nil
}

func (c *MemorySessionCache) Delete(_ context.Context, token string) error {
	c.lru.Remove(token)
	return nil
}

// Len は保持しているエントリ数を返す。期限切れで未回収のエントリを含む。
func (c *MemorySessionCache) Len() int {
	return c.lru.Len()
}

var _ SessionCache = (*MemorySessionCache)(nil)
