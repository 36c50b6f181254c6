// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// SESSION_MAX_AGEで有効期限を付与したセッションは参照時に無効として扱われるが、
// 行自体はこのジョブが定期的に削除する。有効期限のないセッションは対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gradebook/internal/metrics"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryが実装する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, at time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	sessions SessionPurger
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorはnilでもよい。
func NewCleanupJob(sessions SessionPurger, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		metrics:  metrics.OrNop(collector),
		now:      time.Now,
	}
}

// Run は現在時刻より前に期限切れとなったセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsRevoked(int(deleted))
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	if _, err := j.Run(ctx); err != nil && ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 失敗はRun内でログに記録済み。次の周期で再試行する
			j.Run(ctx)
		}
	}
}
