// Package verification は管理者による本人確認審査のドメインロジックを提供する。
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/idgate/internal/model"
	"github.com/hitoshi/idgate/internal/repository"
)

// ChangePublisher は審査結果の変更通知インターフェース。
// 各デバイスのリゾルバーに帯域外で伝搬させるために使う。
type ChangePublisher interface {
	VerificationChanged(ctx context.Context, userID string, status model.VerificationStatus) error
}

// DecisionRecorder は審査決定のメトリクス記録インターフェース。
type DecisionRecorder interface {
	RecordVerificationDecision(status string)
}

// TextSanitizer は入力テキストのサニタイズインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Service は審査のサービス層。
// 承認・否認の確定、監査レコードの追記、変更通知の発行を行う。
type Service struct {
	profileRepo repository.ProfileRepository
	eventRepo   repository.VerificationEventRepository
	publisher   ChangePublisher
	sanitizer   TextSanitizer
	metrics     DecisionRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	eventRepo repository.VerificationEventRepository,
	publisher ChangePublisher,
	sanitizer TextSanitizer,
	metrics DecisionRecorder,
) *Service {
	return &Service{
		profileRepo: profileRepo,
		eventRepo:   eventRepo,
		publisher:   publisher,
		sanitizer:   sanitizer,
		metrics:     metrics,
	}
}

// ListPending は書類提出済みで審査待ちのプロファイルを取得する。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	profiles, err := s.profileRepo.ListPendingReview(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("審査待ち一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// Approve は指定ユーザーの本人確認を承認する。
func (s *Service) Approve(ctx context.Context, userID, reviewedBy string) (*model.Profile, error) {
	return s.decide(ctx, userID, reviewedBy, model.VerificationApproved, "")
}

// Reject は指定ユーザーの本人確認を否認する。理由は必須で、
// 再提出画面にそのまま表示されるためサニタイズされる。
func (s *Service) Reject(ctx context.Context, userID, reviewedBy, reason string) (*model.Profile, error) {
	cleanReason := s.sanitizer.Sanitize(reason)
	if cleanReason == "" {
		return nil, model.NewReasonRequiredError()
	}
	return s.decide(ctx, userID, reviewedBy, model.VerificationRejected, cleanReason)
}

// decide は審査決定を確定し、監査レコードと変更通知を発行する。
// 決定の永続化が成功すれば、通知の失敗はログに記録して決定自体は返す。
func (s *Service) decide(ctx context.Context, userID, reviewedBy string, status model.VerificationStatus, reason string) (*model.Profile, error) {
	existing, err := s.profileRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロファイルの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewProfileNotFoundError()
	}
	if existing.Status != model.VerificationPending {
		return nil, model.NewAlreadyReviewedError(userID)
	}

	profile, err := s.profileRepo.UpdateVerification(ctx, userID, status, reason)
	if err != nil {
		return nil, fmt.Errorf("審査結果の保存に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}

	event := &model.VerificationEvent{
		UserID:     userID,
		Status:     status,
		Reason:     reason,
		ReviewedBy: reviewedBy,
		CreatedAt:  time.Now(),
	}
	if err := s.eventRepo.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("監査レコードの追記に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordVerificationDecision(string(status))
	}

	if s.publisher != nil {
		if err := s.publisher.VerificationChanged(ctx, userID, status); err != nil {
			// 通知の失敗は次回の解決で回収されるため、決定自体は成功扱い
			slog.Warn("審査結果の通知に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("審査結果を確定しました",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
		slog.String("reviewed_by", reviewedBy),
	)
	return profile, nil
}

// History は指定ユーザーの審査履歴を新しい順に取得する。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.VerificationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	events, err := s.eventRepo.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("審査履歴の取得に失敗しました: %w", err)
	}
	return events, nil
}
