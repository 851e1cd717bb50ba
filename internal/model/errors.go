// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, verification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotSignedIn        = "NOT_SIGNED_IN"
	ErrCodeNotVerified        = "NOT_VERIFIED"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeProvisioningFailed = "PROVISIONING_FAILED"
	ErrCodeCallbackTimeout    = "CALLBACK_TIMEOUT"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeInvalidImageURL    = "INVALID_IMAGE_URL"
	ErrCodeImageURLBlocked    = "IMAGE_URL_BLOCKED"
	ErrCodeReasonRequired     = "REASON_REQUIRED"
	ErrCodeAlreadyReviewed    = "ALREADY_REVIEWED"
)

// NewNotSignedInError は未ログインエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "サインイン画面からログインしてください。",
	}
}

// NewNotVerifiedError は本人確認未完了エラーを生成する。
// 投稿・検索・メッセージ機能は承認済みユーザーのみ利用できる。
func NewNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotVerified,
		Message:  "本人確認が完了していません。",
		Category: "verification",
		Action:   "本人確認書類を提出し、審査の完了をお待ちください。",
	}
}

// NewProfileNotFoundError はプロファイル未作成エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロファイルが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProvisioningFailedError はプロファイル作成リトライ上限到達エラーを生成する。
func NewProvisioningFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProvisioningFailed,
		Message:  "プロファイルの作成に失敗しました。",
		Category: "system",
		Action:   "通信環境を確認し、再試行ボタンを押してください。",
	}
}

// NewCallbackTimeoutError はOAuthコールバック完了待ちのタイムアウトエラーを生成する。
func NewCallbackTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeCallbackTimeout,
		Message:  "ログインの完了を確認できませんでした。",
		Category: "auth",
		Action:   "サインイン画面からもう一度ログインしてください。",
	}
}

// NewInvalidStateError はOAuth stateパラメータ不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "認証リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "サインイン画面からもう一度ログインしてください。",
	}
}

// NewInvalidImageURLError は本人確認書類URLの形式エラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("本人確認書類のURLが無効です: %s", reason),
		Category: "validation",
		Action:   "書類を撮影し直してから再度アップロードしてください。",
	}
}

// NewImageURLBlockedError はセキュリティポリシーによるURL拒否エラーを生成する。
func NewImageURLBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeImageURLBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLは受け付けられません。",
		Category: "validation",
		Action:   "アプリのアップロード機能から書類を登録し直してください。",
	}
}

// NewReasonRequiredError は否認理由未入力エラーを生成する。
func NewReasonRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReasonRequired,
		Message:  "否認には理由の入力が必要です。",
		Category: "validation",
		Action:   "否認理由を入力してから再度実行してください。",
	}
}

// NewAlreadyReviewedError は審査済みプロファイルへの重複操作エラーを生成する。
func NewAlreadyReviewedError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReviewed,
		Message:  fmt.Sprintf("このユーザーは審査待ちではありません: %s", userID),
		Category: "verification",
		Action:   "審査待ち一覧を再読み込みしてください。",
	}
}
