package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/idgate/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// profileResponse はプロファイル情報のAPIレスポンス。
type profileResponse struct {
	UserID          string     `json:"user_id"`
	Nickname        string     `json:"nickname"`
	Email           string     `json:"email"`
	Status          string     `json:"status"`
	HasUploadedID   bool       `json:"has_uploaded_id"`
	IDType          string     `json:"id_type,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// verificationEventResponse は審査履歴のAPIレスポンス。
type verificationEventResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ReviewedBy string    `json:"reviewed_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// toProfileResponse はドメインのProfileをAPIレスポンス型に変換する。
func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		UserID:          p.UserID,
		Nickname:        p.Nickname,
		Email:           p.Email,
		Status:          string(p.Status),
		HasUploadedID:   p.HasUploadedID(),
		IDType:          p.IDType,
		RejectionReason: p.RejectionReason,
		VerifiedAt:      p.VerifiedAt,
		CreatedAt:       p.CreatedAt,
	}
}

// toVerificationEventResponse はドメインのVerificationEventをAPIレスポンス型に変換する。
func toVerificationEventResponse(e *model.VerificationEvent) verificationEventResponse {
	return verificationEventResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		Status:     string(e.Status),
		Reason:     e.Reason,
		ReviewedBy: e.ReviewedBy,
		CreatedAt:  e.CreatedAt,
	}
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はエラーコードをHTTPステータスコードに対応づける。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotSignedIn:
		return http.StatusUnauthorized
	case model.ErrCodeNotVerified:
		return http.StatusForbidden
	case model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidState, model.ErrCodeInvalidImageURL,
		model.ErrCodeImageURLBlocked, model.ErrCodeReasonRequired:
		return http.StatusBadRequest
	case model.ErrCodeAlreadyReviewed:
		return http.StatusConflict
	case model.ErrCodeCallbackTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeProvisioningFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
