package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/idgate/internal/model"
)

// VerificationServiceInterface は審査ハンドラーが必要とするサービスインターフェース。
type VerificationServiceInterface interface {
	// ListPending は書類提出済みで審査待ちのプロファイルを取得する。
	ListPending(ctx context.Context, limit int) ([]*model.Profile, error)
	// Approve は指定ユーザーの本人確認を承認する。
	Approve(ctx context.Context, userID, reviewedBy string) (*model.Profile, error)
	// Reject は指定ユーザーの本人確認を理由付きで否認する。
	Reject(ctx context.Context, userID, reviewedBy, reason string) (*model.Profile, error)
	// History は指定ユーザーの審査履歴を新しい順に取得する。
	History(ctx context.Context, userID string, limit int) ([]*model.VerificationEvent, error)
}

// AdminHandler は管理者による本人確認審査のHTTPハンドラー。
type AdminHandler struct {
	service VerificationServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service VerificationServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// reviewDecisionRequest は審査決定リクエストのボディ。
type reviewDecisionRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Reason     string `json:"reason"`
}

// ListPending は審査待ち一覧を取得する。
// GET /admin/verifications?limit=50
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	profiles, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		results[i] = toProfileResponse(p)
	}
	writeJSONResponse(w, http.StatusOK, results)
}

// Approve は本人確認を承認する。
// POST /admin/verifications/{userID}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	req, ok := decodeDecisionRequest(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Approve(r.Context(), userID, req.ReviewedBy)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toProfileResponse(profile))
}

// Reject は本人確認を否認する。理由は必須。
// POST /admin/verifications/{userID}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	req, ok := decodeDecisionRequest(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Reject(r.Context(), userID, req.ReviewedBy, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toProfileResponse(profile))
}

// History は指定ユーザーの審査履歴を取得する。
// GET /admin/verifications/{userID}/history?limit=20
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := parseLimit(r.URL.Query().Get("limit"))

	events, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]verificationEventResponse, len(events))
	for i, e := range events {
		results[i] = toVerificationEventResponse(e)
	}
	writeJSONResponse(w, http.StatusOK, results)
}

// decodeDecisionRequest は審査決定リクエストのボディを解析する。
// reviewed_byは監査レコードに必須。
func decodeDecisionRequest(w http.ResponseWriter, r *http.Request) (reviewDecisionRequest, bool) {
	var req reviewDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return req, false
	}
	if req.ReviewedBy == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "REVIEWER_REQUIRED",
			Message:  "審査者の指定が必要です。",
			Category: "validation",
			Action:   "reviewed_byを指定してください。",
		})
		return req, false
	}
	return req, true
}

// parseLimit はクエリパラメータのlimitを解析する。不正な値は0（デフォルト扱い）。
func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
