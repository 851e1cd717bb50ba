// Package identity はセッションと本人確認状態のオーケストレーションを提供する。
// 外部IDプロバイダーのセッション、アプリケーションプロファイル、
// 帯域外で更新される審査レコードという3つの情報源を、
// 単一の判別可能な状態（State）に収束させる。
package identity

import (
	"github.com/hitoshi/idgate/internal/model"
)

// Kind は解決済みアイデンティティ状態の種別を表す。
// 常にいずれか1つだけが現在の状態であり、画面遷移はKindのみから決定される。
type Kind int

const (
	// KindAnonymous はセッションが存在しない状態。
	KindAnonymous Kind = iota
	// KindProvisioning はセッションは存在するがプロファイル行が未確定の状態。
	KindProvisioning
	// KindAwaitingVerification はプロファイル確定済みで審査待ちの状態。
	KindAwaitingVerification
	// KindRejected は審査で否認された状態。
	KindRejected
	// KindVerified は審査で承認された状態。投稿・検索・メッセージが解放される唯一の状態。
	KindVerified
	// KindProvisioningFailed はプロファイル作成リトライが上限に達した終端状態。
	// 手動リトライで再度プロビジョニングを開始できる。
	KindProvisioningFailed
)

// String はログ・メトリクス用のラベルを返す。
func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindProvisioning:
		return "provisioning"
	case KindAwaitingVerification:
		return "awaiting_verification"
	case KindRejected:
		return "rejected"
	case KindVerified:
		return "verified"
	case KindProvisioningFailed:
		return "provisioning_failed"
	default:
		return "unknown"
	}
}

// State は解決済みのアイデンティティ状態。
// 常に最新のSession+Profileスナップショットから丸ごと再計算され、
// 差分更新は行わない（非同期ソース間の競合による古い状態の混入を防ぐ）。
type State struct {
	Kind Kind

	// UserID と Email はKindAnonymous以外で設定される。
	UserID string
	Email  string

	// HasUploadedID はKindAwaitingVerificationでのみ意味を持つ。
	HasUploadedID bool

	// RejectionReason はKindRejectedでのみ意味を持つ。
	RejectionReason string
}

// Classify は最新のSession/ProfileスナップショットからStateを計算する純関数。
//
// 判定順序:
//  1. セッションなし → Anonymous
//  2. プロファイル行が未確定（CreatedAtなし） → Provisioning
//  3. 審査状態 approved → Verified / rejected → Rejected / それ以外 → AwaitingVerification
//
// 空白のみのid_image_urlは「未アップロード」として扱う。
// 未知の審査状態はpendingとみなす（防御的正規化）。
func Classify(session *model.Session, profile *model.Profile) State {
	if session == nil {
		return State{Kind: KindAnonymous}
	}

	if !profile.Confirmed() {
		return State{
			Kind:   KindProvisioning,
			UserID: session.UserID,
			Email:  session.Email,
		}
	}

	st := State{
		UserID: session.UserID,
		Email:  session.Email,
	}

	switch profile.Status {
	case model.VerificationApproved:
		st.Kind = KindVerified
	case model.VerificationRejected:
		st.Kind = KindRejected
		st.RejectionReason = profile.RejectionReason
	default:
		st.Kind = KindAwaitingVerification
		st.HasUploadedID = profile.HasUploadedID()
	}

	return st
}
