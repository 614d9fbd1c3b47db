// Package cleanup はどこからも参照されなくなった公開記録を削除するジョブを提供する。
// cardshelf cleanup コマンドから1回ずつ実行される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/cardshelf/internal/metrics"
)

// DefaultRetentionDays は参照されなくなった公開記録を残しておく日数の既定値。
const DefaultRetentionDays = 30

// OrphanDeleter は参照されていない公開記録を削除する。
// repository.PublishedRecordRepositoryが実装する。
type OrphanDeleter interface {
	DeleteOrphansOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は孤立した公開記録の削除ジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	records       OrphanDeleter
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob はCleanupJobを生成する。保持日数はDefaultRetentionDays。
// metricsはnilでもよい。
func NewCleanupJob(records OrphanDeleter, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		records:       records,
		logger:        logger,
		metrics:       m,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は記録からRetentionDays日以上経過し、どのカード・コレクション・リンクからも
// 参照されていない公開記録を削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	if j.RetentionDays < 0 {
		return 0, fmt.Errorf("保持日数が不正です: %d", j.RetentionDays)
	}
	before := j.now().UTC().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.records.DeleteOrphansOlderThan(ctx, before)
	if err != nil {
		j.logger.Error("公開記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("公開記録クリーンアップの実行に失敗: %w", err)
	}
	if j.metrics != nil {
		j.metrics.RecordOrphansDeleted(deleted)
	}

	j.logger.Info("公開記録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
