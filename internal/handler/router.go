package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/idgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	StateSource       middleware.StateSource
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	AdminToken        string
	Logger            *slog.Logger

	// 認証
	AuthProvider AuthProviderInterface
	Coordinator  CallbackCompleterInterface
	AuthConfig   AuthHandlerConfig

	// アイデンティティ状態
	IdentityResolver IdentityResolverInterface

	// プロファイル
	ProfileService ProfileServiceInterface

	// 審査
	VerificationService VerificationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (ルートグループごとのゲート)
//
// 認証ルート（/auth/*）と状態取得（/api/identity/state）はゲートの外に置く。
// 状態取得は匿名状態でもサインイン画面の判定に必要なため。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthProvider, deps.Coordinator, deps.IdentityResolver, deps.AuthConfig)
	identityHandler := NewIdentityHandler(deps.IdentityResolver)
	profileHandler := NewProfileHandler(deps.ProfileService)
	adminHandler := NewAdminHandler(deps.VerificationService)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})

	// 状態取得・再解決・手動リトライ。匿名状態を含む全状態で使える。
	r.Route("/api/identity", func(r chi.Router) {
		r.Get("/state", identityHandler.GetState)
		r.Post("/refresh", identityHandler.Refresh)
		r.Post("/retry-provisioning", identityHandler.RetryProvisioning)
	})

	// --- サインイン済みであれば使えるルート ---
	// ミドルウェアスタック: RequireSignedIn → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireSignedInMiddleware(deps.StateSource))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/me", profileHandler.Me)

			// POST /api/profile/id-image - 書類提出（提出専用レート制限を追加）
			r.With(deps.RateLimiter.IDSubmissionMiddleware()).Post("/id-image", profileHandler.SubmitIDImage)
		})
	})

	// --- 審査用ルート（Bearerトークン認証） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAdminTokenMiddleware(deps.AdminToken))

		r.Route("/admin/verifications", func(r chi.Router) {
			r.Get("/", adminHandler.ListPending)

			r.Route("/{userID}", func(r chi.Router) {
				r.Post("/approve", adminHandler.Approve)
				r.Post("/reject", adminHandler.Reject)
				r.Get("/history", adminHandler.History)
			})
		})
	})

	return r
}
