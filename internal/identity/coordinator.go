package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/idgate/internal/model"
	"github.com/hitoshi/idgate/internal/retry"
)

// SessionRefresher は外部IDプロバイダーへのセッション再取得要求を抽象化する。
type SessionRefresher interface {
	// RefreshSession はプロバイダーにセッションの再取得を要求する。
	// まだセッションが見えない場合はnilを返す（エラーではない）。
	RefreshSession(ctx context.Context) (*model.Session, error)
}

// CallbackMetricsRecorder はコールバック完了処理のメトリクス記録インターフェース。
type CallbackMetricsRecorder interface {
	RecordCallbackAttempt()
	RecordCallbackOutcome(success bool)
}

// CoordinatorConfig はCoordinatorの設定。
type CoordinatorConfig struct {
	// MaxAttempts はセッション出現を待つ最大試行回数（デフォルト: 5）。
	MaxAttempts int
	// Interval は試行間の固定待機時間（デフォルト: 1.5秒）。
	// 全体の上限はMaxAttempts×Interval（約7.5秒）で有界であること。
	Interval time.Duration
	// Sleeper は待機の実装。テスト用に注入可能。
	Sleeper retry.Sleeper
}

// CallbackResult はOAuthコールバック完了処理の結果。
// Successがfalseの場合、呼び出し側はローディング画面に留めず
// サインイン入口へ誘導しなければならない。
type CallbackResult struct {
	Success  bool
	Attempts int
	Session  *model.Session
}

// Coordinator はブラウザ経由のOAuthリダイレクト復帰直後の完了処理を担う。
//
// IDプロバイダーのリダイレクトは、プロバイダー側でセッションが参照可能に
// なる前に完了することがある（伝搬遅延）。そのため「セッションがまだ見えない」
// ことを恒久的な失敗として扱わず、上限付きでポーリングする。
type Coordinator struct {
	refresher SessionRefresher
	logger    *slog.Logger
	metrics   CallbackMetricsRecorder
	cfg       CoordinatorConfig
}

// NewCoordinator はCoordinatorを生成する。metricsはnil可。
func NewCoordinator(refresher SessionRefresher, logger *slog.Logger, metrics CallbackMetricsRecorder, cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		refresher: refresher,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// errSessionNotReady はセッションがまだ参照可能になっていないことを表す。
var errSessionNotReady = errors.New("session not yet visible")

// Complete はセッションが参照可能になるまでプロバイダーをポーリングする。
//
// 状態機械: Polling(attempt) → Succeeded | Exhausted。
// ユーザー付きセッションが返った時点で即座に成功する。全試行が尽きた場合は
// Success=falseの結果を返す（エラーではなく、ユーザーに見える明確な失敗）。
// コンテキストのキャンセルのみエラーとして返す。
func (c *Coordinator) Complete(ctx context.Context) (CallbackResult, error) {
	result := CallbackResult{}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts: c.cfg.MaxAttempts,
		Delay:       retry.Fixed(c.cfg.Interval),
		Sleep:       c.cfg.Sleeper,
	}, func(ctx context.Context, attempt int) error {
		result.Attempts = attempt
		if c.metrics != nil {
			c.metrics.RecordCallbackAttempt()
		}

		session, err := c.refresher.RefreshSession(ctx)
		if err != nil {
			// ネットワークエラーも一時的なものとして扱い、リトライ対象にする
			c.logger.Warn("session refresh failed during callback polling",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		if session == nil || session.UserID == "" {
			return errSessionNotReady
		}

		result.Session = session
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return CallbackResult{}, ctx.Err()
		}
		// Exhausted: 無限スピナーを避けるための有界な打ち切り。
		// 呼び出し側はサインイン入口へ戻す。
		if c.metrics != nil {
			c.metrics.RecordCallbackOutcome(false)
		}
		c.logger.Warn("oauth callback polling exhausted",
			slog.Int("max_attempts", c.cfg.MaxAttempts),
		)
		return result, nil
	}

	if c.metrics != nil {
		c.metrics.RecordCallbackOutcome(true)
	}
	c.logger.Info("oauth callback completed",
		slog.String("user_id", result.Session.UserID),
		slog.Int("attempts", result.Attempts),
	)
	result.Success = true
	return result, nil
}
