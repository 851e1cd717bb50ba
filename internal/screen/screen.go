// Package screen は解決済みアイデンティティ状態から表示画面への純粋な写像を提供する。
// 画面決定のロジックはこの写像だけに存在し、各画面が独自に
// アイデンティティ判定を行うことはない（古いスナップショットによる不整合を防ぐ）。
package screen

import "github.com/hitoshi/idgate/internal/identity"

// Screen はUIが表示すべき画面を表す。
type Screen string

const (
	// ScreenSignIn はサインイン入口画面。
	ScreenSignIn Screen = "sign_in"
	// ScreenProfileCreationWait はプロファイル作成待ち画面。
	ScreenProfileCreationWait Screen = "profile_creation_wait"
	// ScreenProvisioningError はプロファイル作成失敗画面（手動リトライ付き）。
	ScreenProvisioningError Screen = "provisioning_error"
	// ScreenUploadID は本人確認書類アップロード画面。
	ScreenUploadID Screen = "upload_id"
	// ScreenPendingReview は審査待ち画面。
	ScreenPendingReview Screen = "pending_review"
	// ScreenMainApp はメインアプリ画面。承認済みユーザーのみ。
	ScreenMainApp Screen = "main_app"
)

// ForState は状態から画面を決定する副作用のない純関数。
//
//	Anonymous              → SignIn
//	Provisioning           → ProfileCreationWait
//	ProvisioningFailed     → ProvisioningError
//	AwaitingVerification(false) → UploadID
//	AwaitingVerification(true)  → PendingReview
//	Rejected               → UploadID（否認理由を表示して再提出を促す）
//	Verified               → MainApp
func ForState(st identity.State) Screen {
	switch st.Kind {
	case identity.KindAnonymous:
		return ScreenSignIn
	case identity.KindProvisioning:
		return ScreenProfileCreationWait
	case identity.KindProvisioningFailed:
		return ScreenProvisioningError
	case identity.KindAwaitingVerification:
		if st.HasUploadedID {
			return ScreenPendingReview
		}
		return ScreenUploadID
	case identity.KindRejected:
		return ScreenUploadID
	case identity.KindVerified:
		return ScreenMainApp
	default:
		return ScreenSignIn
	}
}
