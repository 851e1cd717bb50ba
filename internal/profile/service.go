// Package profile はプロファイル参照と本人確認書類提出のドメインロジックを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/idgate/internal/model"
	"github.com/hitoshi/idgate/internal/repository"
)

// ImageURLValidator は書類画像URLの事前検証インターフェース。
type ImageURLValidator interface {
	ValidateImageURL(rawURL string) error
}

// TextSanitizer は入力テキストのサニタイズインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// SubmissionRecorder は書類提出のメトリクス記録インターフェース。
type SubmissionRecorder interface {
	RecordIDImageSubmitted()
}

// Service はプロファイルのサービス層。
// 本人確認書類の提出と自身のプロファイル参照を提供する。
type Service struct {
	profileRepo repository.ProfileRepository
	guard       ImageURLValidator
	sanitizer   TextSanitizer
	metrics     SubmissionRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	guard ImageURLValidator,
	sanitizer TextSanitizer,
	metrics SubmissionRecorder,
) *Service {
	return &Service{
		profileRepo: profileRepo,
		guard:       guard,
		sanitizer:   sanitizer,
		metrics:     metrics,
	}
}

// Me は自身のプロファイルを取得する。
// プロファイル行がまだ存在しない場合はProfileNotFoundエラーを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.profileRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロファイルの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return profile, nil
}

// SubmitIDImage は本人確認書類を提出する。
// URLの安全性検証と書類種別のサニタイズを行ったうえで、
// 審査状態をpendingに戻して保存する。否認からの再提出では否認理由もクリアされる。
func (s *Service) SubmitIDImage(ctx context.Context, userID, imageURL, idType string) (*model.Profile, error) {
	if err := s.guard.ValidateImageURL(imageURL); err != nil {
		slog.Warn("本人確認書類URLの検証に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewImageURLBlockedError()
	}

	cleanType := s.sanitizer.Sanitize(idType)
	if cleanType == "" {
		return nil, model.NewInvalidImageURLError("書類種別が指定されていません")
	}

	profile, err := s.profileRepo.SubmitIDImage(ctx, userID, imageURL, cleanType)
	if err != nil {
		return nil, fmt.Errorf("本人確認書類の登録に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}

	if s.metrics != nil {
		s.metrics.RecordIDImageSubmitted()
	}

	slog.Info("本人確認書類を受け付けました",
		slog.String("user_id", userID),
		slog.String("id_type", cleanType),
	)
	return profile, nil
}
