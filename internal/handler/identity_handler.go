package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/idgate/internal/identity"
	"github.com/hitoshi/idgate/internal/screen"
)

// IdentityResolverInterface はアイデンティティハンドラーが必要とするリゾルバー操作。
type IdentityResolverInterface interface {
	// Current は現在の状態のスナップショットを返す。
	Current() identity.State
	// Resolve は最新のスナップショットから状態を再計算する。
	Resolve(ctx context.Context) (identity.State, error)
	// RetryProvisioning はプロビジョニング失敗からの手動リトライを実行する。
	RetryProvisioning(ctx context.Context) (identity.State, error)
}

// IdentityHandler はアイデンティティ状態のHTTPハンドラー。
type IdentityHandler struct {
	resolver IdentityResolverInterface
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(resolver IdentityResolverInterface) *IdentityHandler {
	return &IdentityHandler{resolver: resolver}
}

// identityStateResponse は状態取得APIのレスポンス。
// 画面決定は状態からの純粋な写像であり、クライアントが独自に判定することはない。
type identityStateResponse struct {
	Kind            string `json:"kind"`
	Screen          string `json:"screen"`
	UserID          string `json:"user_id,omitempty"`
	Email           string `json:"email,omitempty"`
	HasUploadedID   bool   `json:"has_uploaded_id"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toIdentityStateResponse(st identity.State) identityStateResponse {
	return identityStateResponse{
		Kind:            st.Kind.String(),
		Screen:          string(screen.ForState(st)),
		UserID:          st.UserID,
		Email:           st.Email,
		HasUploadedID:   st.HasUploadedID,
		RejectionReason: st.RejectionReason,
	}
}

// GetState は現在の解決済み状態と表示すべき画面を返す。
// GET /api/identity/state
func (h *IdentityHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, toIdentityStateResponse(h.resolver.Current()))
}

// Refresh は最新のスナップショットから状態を再解決して返す。
// フォアグラウンド復帰などクライアント主導の再確認に使う。
// POST /api/identity/refresh
func (h *IdentityHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	st, err := h.resolver.Resolve(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toIdentityStateResponse(st))
}

// RetryProvisioning はプロファイル作成失敗画面からの手動リトライを処理する。
// 失敗状態以外では現在の状態をそのまま返す。
// POST /api/identity/retry-provisioning
func (h *IdentityHandler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	st, err := h.resolver.RetryProvisioning(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toIdentityStateResponse(st))
}
