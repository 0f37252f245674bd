// Package cleanup は期限切れの認証データを定期削除するジョブを提供する。
// DBセッション戦略の期限切れセッションと、期限切れの確認トークンが対象。
// 読み取り時の遅延削除に加え、アクセスのないレコードをここで回収する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// 削除対象の種別。メトリクスのラベルとログに使う。
const (
	KindSessions           = "sessions"
	KindVerificationTokens = "verification_tokens"
)

// SessionSweeper は期限切れセッションを一括削除する。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenSweeper は期限切れの確認トークンを一括削除する。
type TokenSweeper interface {
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// SweepRecorder は削除件数を記録する。
type SweepRecorder interface {
	RecordSweep(kind string, deleted int64)
}

// CleanupJob は期限切れレコードの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionSweeper // nilの場合はセッションを対象外にする（Redisバックエンド）
	tokens   TokenSweeper
	recorder SweepRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// sessionsにnilを渡すとセッションの削除を行わない。
func NewCleanupJob(sessions SessionSweeper, tokens TokenSweeper, recorder SweepRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		tokens:   tokens,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れのセッションと確認トークンを削除する。
// 片方が失敗してももう片方は実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error
	if j.sessions != nil {
		if err := j.sweep(ctx, KindSessions, func(ctx context.Context) (int64, error) {
			return j.sessions.DeleteExpired(ctx, now)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if j.tokens != nil {
		if err := j.sweep(ctx, KindVerificationTokens, func(ctx context.Context) (int64, error) {
			return j.tokens.DeleteExpiredVerificationTokens(ctx, now)
		}); err != nil {
			errs = append(errs, err)
		}
	}

	j.logger.Info("cleanup job finished",
		slog.Int("failures", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

func (j *CleanupJob) sweep(ctx context.Context, kind string, fn func(context.Context) (int64, error)) error {
	deleted, err := fn(ctx)
	if err != nil {
		j.logger.Error("cleanup failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("cleanup %s: %w", kind, err)
	}
	if j.recorder != nil {
		j.recorder.RecordSweep(kind, deleted)
	}
	j.logger.Info("expired records deleted",
		slog.String("kind", kind),
		slog.Int64("deleted_count", deleted),
	)
	return nil
}

// Loop はintervalごとにRunを実行し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *CleanupJob) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// 失敗はRun内でログ済み。次回の実行で再試行する
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
