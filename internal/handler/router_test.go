package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/idgate/internal/identity"
	"github.com/hitoshi/idgate/internal/middleware"
	"github.com/hitoshi/idgate/internal/model"
)

// stubStateSource はミドルウェアに渡す固定状態の供給元。
type stubStateSource struct {
	state identity.State
}

func (s *stubStateSource) Current() identity.State {
	return s.state
}

func newTestRouter(t *testing.T, source *stubStateSource) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	now := time.Now()
	deps := &RouterDeps{
		StateSource:       source,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AdminToken:        "router-test-token",
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),

		AuthProvider: &mockAuthProvider{},
		Coordinator:  &mockCompleter{},
		AuthConfig:   testAuthConfig(),

		IdentityResolver: &mockIdentityResolver{
			currentFn: func() identity.State { return source.state },
		},

		ProfileService: &mockProfileService{
			meFn: func(ctx context.Context, userID string) (*model.Profile, error) {
				return &model.Profile{
					UserID:    userID,
					CreatedAt: &now,
					Status:    model.VerificationPending,
				}, nil
			},
		},

		VerificationService: &mockVerificationService{},
	}

	return NewRouter(deps)
}

func TestRouter_Healthz_NoAuth(t *testing.T) {
	router := newTestRouter(t, &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_IdentityState_AvailableWhenAnonymous(t *testing.T) {
	router := newTestRouter(t, &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}})

	req := httptest.NewRequest(http.MethodGet, "/api/identity/state", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var body identityStateResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Kind != "anonymous" {
		t.Errorf("kind = %q, want %q", body.Kind, "anonymous")
	}
	if body.Screen != "sign_in" {
		t.Errorf("screen = %q, want %q", body.Screen, "sign_in")
	}
}

func TestRouter_ProfileMe_RequiresSignIn(t *testing.T) {
	source := &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}}
	router := newTestRouter(t, source)

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	// サインイン済みなら通る（承認済みである必要はない）
	source.state = identity.State{
		Kind:   identity.KindAwaitingVerification,
		UserID: "user-router",
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w2 := httptest.NewRecorder()

	router.ServeHTTP(w2, req2)

	if w2.Result().StatusCode != http.StatusOK {
		t.Errorf("signed in: status = %d, want %d", w2.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_AdminRoutes_RequireToken(t *testing.T) {
	router := newTestRouter(t, &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}})

	req := httptest.NewRequest(http.MethodGet, "/admin/verifications", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/admin/verifications", nil)
	req2.Header.Set("Authorization", "Bearer router-test-token")
	w2 := httptest.NewRecorder()

	router.ServeHTTP(w2, req2)

	if w2.Result().StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", w2.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_AuthLogin_Redirects(t *testing.T) {
	router := newTestRouter(t, &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}})

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTemporaryRedirect)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}})

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}
