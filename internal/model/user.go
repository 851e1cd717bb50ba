// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// VerificationStatus は本人確認書類の審査状態を表す。
type VerificationStatus string

const (
	// VerificationPending は審査待ち（書類未提出を含む）。
	VerificationPending VerificationStatus = "pending"
	// VerificationApproved は承認済み。投稿・検索・メッセージ機能が解放される。
	VerificationApproved VerificationStatus = "approved"
	// VerificationRejected は否認。理由付きで再提出を求める。
	VerificationRejected VerificationStatus = "rejected"
)

// ParseVerificationStatus は文字列をVerificationStatusに変換する。
// 未知の値はpendingとして扱う（防御的正規化）。
func ParseVerificationStatus(s string) VerificationStatus {
	switch VerificationStatus(strings.TrimSpace(strings.ToLower(s))) {
	case VerificationApproved:
		return VerificationApproved
	case VerificationRejected:
		return VerificationRejected
	default:
		return VerificationPending
	}
}

// Session は外部IDプロバイダーが発行した認証済みセッションを表す。
// アプリケーションプロファイルとは独立しており、セッションが存在しても
// プロファイル行がまだ存在しないことがある。
type Session struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
	// Metadata はプロバイダー固有の生メタデータ。コアは中身を解釈しない。
	Metadata map[string]any
}

// Profile はセッションを拡張するアプリケーション所有のレコードを表す。
// CreatedAtがnilの場合、永続化されたプロファイル行はまだ存在しない
// （セッションメタデータから構成された暫定ユーザー）。
type Profile struct {
	UserID          string
	Nickname        string
	Phone           string
	Email           string
	CreatedAt       *time.Time
	UpdatedAt       time.Time
	Status          VerificationStatus
	IDImageURL      string
	IDType          string
	RejectionReason string
	VerifiedAt      *time.Time
}

// Confirmed は永続化されたプロファイル行が存在するかを返す。
// CreatedAtの有無が唯一の信頼できるシグナル。
func (p *Profile) Confirmed() bool {
	return p != nil && p.CreatedAt != nil
}

// HasUploadedID は本人確認書類がアップロード済みかを返す。
// 空文字列・空白のみのURLは「未アップロード」として扱う。
func (p *Profile) HasUploadedID() bool {
	return p != nil && strings.TrimSpace(p.IDImageURL) != ""
}

// VerificationEvent は管理者による審査決定の監査レコードを表す。
type VerificationEvent struct {
	ID         string
	UserID     string
	Status     VerificationStatus
	Reason     string
	ReviewedBy string
	CreatedAt  time.Time
}
