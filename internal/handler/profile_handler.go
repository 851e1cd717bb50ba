package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/idgate/internal/middleware"
	"github.com/hitoshi/idgate/internal/model"
)

// ProfileServiceInterface はプロファイルハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	// Me は自身のプロファイルを取得する。
	Me(ctx context.Context, userID string) (*model.Profile, error)
	// SubmitIDImage は本人確認書類を提出する。
	SubmitIDImage(ctx context.Context, userID, imageURL, idType string) (*model.Profile, error)
}

// ProfileHandler はプロファイル管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// submitIDImageRequest は本人確認書類提出リクエストのボディ。
type submitIDImageRequest struct {
	ImageURL string `json:"image_url"`
	IDType   string `json:"id_type"`
}

// Me は自身のプロファイルを取得する。
// GET /api/profile/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
		return
	}

	profile, err := h.service.Me(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toProfileResponse(profile))
}

// SubmitIDImage は本人確認書類の提出を処理する。
// POST /api/profile/id-image
func (h *ProfileHandler) SubmitIDImage(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
		return
	}

	var req submitIDImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.ImageURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidImageURLError("URLが空です"))
		return
	}

	profile, err := h.service.SubmitIDImage(r.Context(), userID, req.ImageURL, req.IDType)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, toProfileResponse(profile))
}
