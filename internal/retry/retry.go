// Package retry は上限付き非同期リトライの共通プリミティブを提供する。
// プロファイル作成の線形バックオフとOAuthコールバックの固定間隔ポーリングは
// どちらも「上限付きリトライ」の具体化であり、最大試行回数と遅延関数だけが異なる。
package retry

import (
	"context"
	"fmt"
	"time"
)

// DelayFunc は失敗した試行番号（1始まり）から次の試行までの待機時間を計算する。
type DelayFunc func(attempt int) time.Duration

// Linear は線形増加の遅延関数を返す。
// n回目の失敗後にn×stepだけ待機する（1回目の試行前の待機はなし）。
func Linear(step time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Fixed は固定間隔の遅延関数を返す。
func Fixed(interval time.Duration) DelayFunc {
	return func(int) time.Duration {
		return interval
	}
}

// Sleeper は試行間の待機を抽象化する。
// テストでは実時間を消費しない実装を注入できる。
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper はコンテキストのキャンセルを尊重する標準のSleeper。
func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config は上限付きリトライの設定。
type Config struct {
	// MaxAttempts は最大試行回数。1以上であること。
	MaxAttempts int
	// Delay は失敗後の待機時間を計算する。最終試行の失敗後は待機しない。
	Delay DelayFunc
	// Sleep は待機の実装。nilの場合はContextSleeperを使用する。
	Sleep Sleeper
}

// ExhaustedError は全試行が失敗したことを表す。
// 最後に発生したエラーをラップする。
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error はerrorインターフェースを実装する。
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap は最後のエラーを返す。
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do はopを最大MaxAttempts回実行する。
// opがnilを返した時点で成功として終了する。失敗後は次の試行前に
// Delay(attempt)だけ待機する（attemptは直前に失敗した試行番号、1始まり）。
// 各試行の前にコンテキストのキャンセルを確認し、キャンセル済みの場合は
// 古い成功を返さずにctx.Err()で中断する。
// 全試行が失敗した場合は*ExhaustedErrorを返す。
func Do(ctx context.Context, cfg Config, op func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = ContextSleeper
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := op(ctx, attempt); err == nil {
			return nil
		} else {
			last = err
		}

		// 最終試行の失敗後は待機せず即座に打ち切る
		if attempt < cfg.MaxAttempts {
			var d time.Duration
			if cfg.Delay != nil {
				d = cfg.Delay(attempt)
			}
			if err := sleep(ctx, d); err != nil {
				return err
			}
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}
