package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/idgate/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロファイルリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `user_id, nickname, phone, email, created_at, updated_at,
	verification_status, id_image_url, id_type, rejection_reason, verified_at`

// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`,
		userID,
	)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}
	return profile, nil
}

// EnsureExists はプロファイル行を冪等に作成・取得する。
// 既存行がある場合は既存の値を保持したまま返す（再プロビジョニングで上書きしない）。
func (r *PostgresProfileRepo) EnsureExists(ctx context.Context, params EnsureProfileParams) (*model.Profile, error) {
	now := time.Now()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (user_id, nickname, phone, email, created_at, updated_at, verification_status)
		 VALUES ($1, $2, $3, $4, $5, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = profiles.user_id
		 RETURNING `+profileColumns,
		params.UserID, params.Nickname, params.Phone, params.Email, now, string(model.VerificationPending),
	)

	profile, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile exists: %w", err)
	}
	return profile, nil
}

// SubmitIDImage は本人確認書類のURLと種別を登録し、審査状態をpendingに戻す。
// 否認からの再提出では否認理由もクリアされる。
func (r *PostgresProfileRepo) SubmitIDImage(ctx context.Context, userID, imageURL, idType string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET id_image_url = $2,
		     id_type = $3,
		     verification_status = $4,
		     rejection_reason = '',
		     verified_at = NULL,
		     updated_at = $5
		 WHERE user_id = $1
		 RETURNING `+profileColumns,
		userID, imageURL, idType, string(model.VerificationPending), time.Now(),
	)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit ID image: %w", err)
	}
	return profile, nil
}

// UpdateVerification は管理者の審査決定を反映する。
// approvedの場合はverified_atを記録し、それ以外ではクリアする。
func (r *PostgresProfileRepo) UpdateVerification(ctx context.Context, userID string, status model.VerificationStatus, reason string) (*model.Profile, error) {
	now := time.Now()
	var verifiedAt *time.Time
	if status == model.VerificationApproved {
		verifiedAt = &now
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET verification_status = $2,
		     rejection_reason = $3,
		     verified_at = $4,
		     updated_at = $5
		 WHERE user_id = $1
		 RETURNING `+profileColumns,
		userID, string(status), reason, verifiedAt, now,
	)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}
	return profile, nil
}

// ListPendingReview は書類提出済みで審査待ちのプロファイルを古い順に取得する。
func (r *PostgresProfileRepo) ListPendingReview(ctx context.Context, limit int) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 WHERE verification_status = $1 AND TRIM(id_image_url) <> ''
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		string(model.VerificationPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending profiles: %w", err)
	}
	return profiles, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProfile は1行分のプロファイルを読み取り、NULL許容カラムを正規化する。
func scanProfile(row rowScanner) (*model.Profile, error) {
	profile := &model.Profile{}
	var (
		createdAt       time.Time
		status          string
		idImageURL      sql.NullString
		idType          sql.NullString
		rejectionReason sql.NullString
		verifiedAt      sql.NullTime
	)

	err := row.Scan(
		&profile.UserID, &profile.Nickname, &profile.Phone, &profile.Email,
		&createdAt, &profile.UpdatedAt,
		&status, &idImageURL, &idType, &rejectionReason, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}

	profile.CreatedAt = &createdAt
	profile.Status = model.ParseVerificationStatus(status)
	profile.IDImageURL = strings.TrimSpace(idImageURL.String)
	profile.IDType = strings.TrimSpace(idType.String)
	profile.RejectionReason = rejectionReason.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		profile.VerifiedAt = &t
	}
	return profile, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
