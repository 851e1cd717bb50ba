// Package watch は審査結果の帯域外通知をRedis Pub/Subで配送する。
// 管理者の承認・否認はサーバープロセスで確定するため、各デバイスの
// リゾルバーには通知チャネル経由で伝搬させる。
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// channelVerificationChanged は審査結果変更の通知チャネル名。
const channelVerificationChanged = "idgate:verification_changed"

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

// NewClient はRedis接続URLからクライアントを生成し、起動時に疎通確認を行う。
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
