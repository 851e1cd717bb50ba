// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/idgate/internal/model"
)

// EnsureProfileParams はプロファイルの冪等な作成・取得に使うパラメータ。
type EnsureProfileParams struct {
	UserID   string
	Nickname string
	Phone    string
	Email    string
}

// ProfileRepository はアプリケーションプロファイルの永続化インターフェース。
// セッションだけが存在する新規ユーザーに対してはFindByUserIDがnilを返すことがある。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// EnsureExists はプロファイル行を冪等に作成・取得する。
	// 既存行がある場合はそれを返し、ない場合は作成して返す。
	// 返り値のプロファイルは必ずCreatedAtを持つ。
	EnsureExists(ctx context.Context, params EnsureProfileParams) (*model.Profile, error)

	// SubmitIDImage は本人確認書類のURLと種別を登録し、審査状態をpendingに戻す。
	// プロファイルが存在しない場合はnilを返す。
	SubmitIDImage(ctx context.Context, userID, imageURL, idType string) (*model.Profile, error)

	// UpdateVerification は管理者の審査決定を反映する。
	// approvedの場合はverified_atを記録し、それ以外ではクリアする。
	// プロファイルが存在しない場合はnilを返す。
	UpdateVerification(ctx context.Context, userID string, status model.VerificationStatus, reason string) (*model.Profile, error)

	// ListPendingReview は書類提出済みで審査待ちのプロファイルを取得する。
	ListPendingReview(ctx context.Context, limit int) ([]*model.Profile, error)
}

// VerificationEventRepository は審査決定の監査レコードの永続化インターフェース。
type VerificationEventRepository interface {
	// Append は監査レコードを追記する。
	Append(ctx context.Context, event *model.VerificationEvent) error

	// ListByUserID は指定ユーザーの監査レコードを新しい順に取得する。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.VerificationEvent, error)
}
