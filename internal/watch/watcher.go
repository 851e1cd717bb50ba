package watch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// VerificationNotifier は審査結果の変更を受け取る側のインターフェース。
// IdentityResolverが実装する。
type VerificationNotifier interface {
	NotifyVerificationChanged(ctx context.Context, userID string)
}

// Watcher は通知チャネルを購読し、審査結果の変更をリゾルバーへ転送する。
type Watcher struct {
	client   *redis.Client
	notifier VerificationNotifier
	logger   *slog.Logger
}

// NewWatcher はWatcherを生成する。
func NewWatcher(client *redis.Client, notifier VerificationNotifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:   client,
		notifier: notifier,
		logger:   logger,
	}
}

// Run は通知チャネルの購読ループを実行する。ctxのキャンセルで停止する。
// 個々のメッセージの不備はログに記録して読み飛ばす。
func (w *Watcher) Run(ctx context.Context) error {
	sub := w.client.Subscribe(ctx, channelVerificationChanged)
	defer sub.Close()

	ch := sub.Channel()
	w.logger.Info("verification watcher started", slog.String("channel", channelVerificationChanged))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("verification watcher stopped")
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				w.logger.Info("verification watcher channel closed")
				return nil
			}
			w.handleMessage(ctx, msg.Payload)
		}
	}
}

// handleMessage は1件の通知を処理する。
func (w *Watcher) handleMessage(ctx context.Context, payload string) {
	var msg verificationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		w.logger.Warn("invalid verification message", slog.String("error", err.Error()))
		return
	}
	if msg.UserID == "" {
		w.logger.Warn("verification message without user_id")
		return
	}

	w.logger.Info("verification change received",
		slog.String("user_id", msg.UserID),
		slog.String("status", msg.Status),
	)
	w.notifier.NotifyVerificationChanged(ctx, msg.UserID)
}
