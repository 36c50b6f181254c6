package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/gradebook/internal/model"
	"github.com/hitoshi/gradebook/internal/repository"
)

// CachedSessionRepo はSessionRepositoryの前段にSessionCacheを置くデコレータ。
// キャッシュの障害はストアへのフォールバックで吸収し、リクエストを失敗させない。
//
// 期限付きセッションはキャッシュのTTLの範囲で期限切れ後も有効と判定されうる。
type CachedSessionRepo struct {
	next  repository.SessionRepository
	cache SessionCache
}

// NewCachedSessionRepo はCachedSessionRepoを生成する。
func NewCachedSessionRepo(next repository.SessionRepository, cache SessionCache) *CachedSessionRepo {
	return &CachedSessionRepo{next: next, cache: cache}
}

func (r *CachedSessionRepo) Create(ctx context.Context, session model.Session) (string, bool, error) {
	token, found, err := r.next.Create(ctx, session)
	if err != nil || !found {
		return token, found, err
	}
	r.set(ctx, token)
	return token, true, nil
}

func (r *CachedSessionRepo) FindByToken(ctx context.Context, token string) (string, bool, error) {
	hit, err := r.cache.Get(ctx, token)
	if err != nil {
		slog.Warn("session cache unavailable", slog.String("error", err.Error()))
	} else if hit {
		return token, true, nil
	}

	found, ok, err := r.next.FindByToken(ctx, token)
	if err != nil || !ok {
		return found, ok, err
	}
	r.set(ctx, found)
	return found, true, nil
}

// Delete はキャッシュを先に無効化してからストアの行を削除する。
func (r *CachedSessionRepo) Delete(ctx context.Context, token string) error {
	if err := r.cache.Delete(ctx, token); err != nil {
		slog.Warn("session cache eviction failed", slog.String("error", err.Error()))
	}
	return r.next.Delete(ctx, token)
}

func (r *CachedSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.next.DeleteExpired(ctx, now)
}

func (r *CachedSessionRepo) set(ctx context.Context, token string) {
	if err := r.cache.Set(ctx, token); err != nil {
		slog.Warn("session cache set failed", slog.String("error", err.Error()))
	}
}

var _ repository.SessionRepository = (*CachedSessionRepo)(nil)
