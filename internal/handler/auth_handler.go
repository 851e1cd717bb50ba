// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/idgate/internal/identity"
	"github.com/hitoshi/idgate/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthProviderInterface は認証ハンドラーが必要とするIDプロバイダーの操作。
type AuthProviderInterface interface {
	// SignInURL は指定プロバイダーの認可エンドポイントURLを返す。
	SignInURL(providerName, state string) string
	// ExchangeCode は認可コードをセッションに交換する。
	ExchangeCode(ctx context.Context, code string) error
	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context) error
}

// CallbackCompleterInterface はリダイレクト復帰後のセッション出現待ちを抽象化する。
// identity.Coordinatorが実装する。
type CallbackCompleterInterface interface {
	Complete(ctx context.Context) (identity.CallbackResult, error)
}

// StateRefresherInterface はコールバック完了後の状態再解決を抽象化する。
type StateRefresherInterface interface {
	Resolve(ctx context.Context) (identity.State, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL は認証完了後にリダイレクトするフロントエンドのベースURL。
	BaseURL string
	// ProviderName はデフォルトのOAuthプロバイダー名（例: "google"）。
	ProviderName string
	CookieSecure bool
}

// AuthHandler はOAuth認証フローのHTTPハンドラー。
type AuthHandler struct {
	provider    AuthProviderInterface
	coordinator CallbackCompleterInterface
	resolver    StateRefresherInterface
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	provider AuthProviderInterface,
	coordinator CallbackCompleterInterface,
	resolver StateRefresherInterface,
	config AuthHandlerConfig,
) *AuthHandler {
	if config.ProviderName == "" {
		config.ProviderName = "google"
	}
	return &AuthHandler{
		provider:    provider,
		coordinator: coordinator,
		resolver:    resolver,
		config:      config,
	}
}

// Login はOAuthフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     "INTERNAL_ERROR",
			Message:  "内部エラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		providerName = h.config.ProviderName
	}

	url := h.provider.SignInURL(providerName, state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthリダイレクト復帰を処理する。
//
// 認可コードの交換後、プロバイダー側でセッションが参照可能になるまで
// 上限付きでポーリングする。全試行が尽きた場合は無限スピナーに陥らないよう
// サインイン入口へ誘導する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// 3. 認可コードをセッションに交換
	if err := h.provider.ExchangeCode(r.Context(), code); err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "EXCHANGE_FAILED",
			Message:  "認証コードの交換に失敗しました。",
			Category: "auth",
			Action:   "サインイン画面からもう一度ログインしてください。",
		})
		return
	}

	// 4. セッションの出現を上限付きで待つ
	result, err := h.coordinator.Complete(r.Context())
	if err != nil {
		// コンテキストキャンセルのみエラーになる
		slog.Warn("oauth callback aborted", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusGatewayTimeout, model.NewCallbackTimeoutError())
		return
	}
	if !result.Success {
		// 有界な打ち切り。サインイン入口に戻して再ログインを促す。
		http.Redirect(w, r, h.config.BaseURL+"/?auth_error=callback_timeout", http.StatusTemporaryRedirect)
		return
	}

	// 5. 新しいセッションで状態を再解決する
	if _, err := h.resolver.Resolve(r.Context()); err != nil {
		slog.Warn("resolve after callback failed", slog.String("error", err.Error()))
	}

	// 6. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context()); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		// サインアウト失敗でもローカル状態はクリア済みのため、入口へ戻す
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
