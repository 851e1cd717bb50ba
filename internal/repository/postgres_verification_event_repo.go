package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/idgate/internal/model"
)

// PostgresVerificationEventRepo はPostgreSQLを使用した審査監査レコードリポジトリ。
type PostgresVerificationEventRepo struct {
	db *sql.DB
}

// NewPostgresVerificationEventRepo はPostgresVerificationEventRepoを生成する。
func NewPostgresVerificationEventRepo(db *sql.DB) *PostgresVerificationEventRepo {
	return &PostgresVerificationEventRepo{db: db}
}

// Append は監査レコードを追記する。IDが未設定の場合は生成する。
func (r *PostgresVerificationEventRepo) Append(ctx context.Context, event *model.VerificationEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_events (id, user_id, status, reason, reviewed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.UserID, string(event.Status), event.Reason, event.ReviewedBy, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification event: %w", err)
	}
	return nil
}

// ListByUserID は指定ユーザーの監査レコードを新しい順に取得する。
func (r *PostgresVerificationEventRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.VerificationEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, status, reason, reviewed_by, created_at
		 FROM verification_events
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification events: %w", err)
	}
	defer rows.Close()

	var events []*model.VerificationEvent
	for rows.Next() {
		event := &model.VerificationEvent{}
		var status string
		if err := rows.Scan(&event.ID, &event.UserID, &status, &event.Reason, &event.ReviewedBy, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification event: %w", err)
		}
		event.Status = model.ParseVerificationStatus(status)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification events: %w", err)
	}
	return events, nil
}

// compile-time interface check
var _ VerificationEventRepository = (*PostgresVerificationEventRepo)(nil)
