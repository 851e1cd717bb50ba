package watch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/idgate/internal/model"
)

// verificationMessage は通知チャネルに流れるペイロード。
type verificationMessage struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// Publisher は審査結果の変更をRedisチャネルに発行する。
type Publisher struct {
	client *redis.Client
}

// NewPublisher はPublisherを生成する。
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// VerificationChanged は指定ユーザーの審査結果が変わったことを通知する。
// 購読者が存在しない場合も発行自体は成功する。
func (p *Publisher) VerificationChanged(ctx context.Context, userID string, status model.VerificationStatus) error {
	payload, err := json.Marshal(verificationMessage{
		UserID: userID,
		Status: string(status),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal verification message: %w", err)
	}

	if err := p.client.Publish(ctx, channelVerificationChanged, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish verification change: %w", err)
	}
	return nil
}
