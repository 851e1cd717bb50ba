package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/idgate/internal/identity"
)

// stubStateSource はテスト用の固定状態供給元。
type stubStateSource struct {
	state identity.State
}

func (s *stubStateSource) Current() identity.State {
	return s.state
}

var _ StateSource = (*stubStateSource)(nil)

// --- RequireSignedInMiddleware のテスト ---

func TestRequireSignedInMiddleware_Anonymous_Returns401(t *testing.T) {
	source := &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}}
	mw := NewRequireSignedInMiddleware(source)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for anonymous state")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "NOT_SIGNED_IN" {
		t.Errorf("code = %q, want %q", body.Code, "NOT_SIGNED_IN")
	}
}

func TestRequireSignedInMiddleware_EmptyUserID_Returns401(t *testing.T) {
	// セッションはあるがユーザーIDが空という異常な状態も弾く
	source := &stubStateSource{state: identity.State{Kind: identity.KindProvisioning}}
	mw := NewRequireSignedInMiddleware(source)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without user ID")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireSignedInMiddleware_SignedIn_InjectsUserID(t *testing.T) {
	// 承認待ちでもサインイン済みであれば通す（画面判定はこのゲートの責務ではない）
	source := &stubStateSource{state: identity.State{
		Kind:   identity.KindAwaitingVerification,
		UserID: "user-signed-in",
		Email:  "signed-in@example.com",
	}}
	mw := NewRequireSignedInMiddleware(source)

	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Fatalf("UserIDFromContext() error = %v", err)
		}
		gotUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotUserID != "user-signed-in" {
		t.Errorf("user ID in context = %q, want %q", gotUserID, "user-signed-in")
	}
}

// --- RequireVerifiedMiddleware のテスト ---

func TestRequireVerifiedMiddleware_Anonymous_Returns401(t *testing.T) {
	source := &stubStateSource{state: identity.State{Kind: identity.KindAnonymous}}
	mw := NewRequireVerifiedMiddleware(source)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for anonymous state")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireVerifiedMiddleware_NotVerified_Returns403(t *testing.T) {
	kinds := []struct {
		name string
		kind identity.Kind
	}{
		{"provisioning", identity.KindProvisioning},
		{"awaiting_verification", identity.KindAwaitingVerification},
		{"rejected", identity.KindRejected},
		{"provisioning_failed", identity.KindProvisioningFailed},
	}

	for _, tc := range kinds {
		t.Run(tc.name, func(t *testing.T) {
			source := &stubStateSource{state: identity.State{
				Kind:   tc.kind,
				UserID: "user-not-verified",
			}}
			mw := NewRequireVerifiedMiddleware(source)

			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called for unverified state")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != "NOT_VERIFIED" {
				t.Errorf("code = %q, want %q", body.Code, "NOT_VERIFIED")
			}
		})
	}
}

func TestRequireVerifiedMiddleware_Verified_InjectsUserID(t *testing.T) {
	source := &stubStateSource{state: identity.State{
		Kind:   identity.KindVerified,
		UserID: "user-verified",
		Email:  "verified@example.com",
	}}
	mw := NewRequireVerifiedMiddleware(source)

	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Fatalf("UserIDFromContext() error = %v", err)
		}
		gotUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotUserID != "user-verified" {
		t.Errorf("user ID in context = %q, want %q", gotUserID, "user-verified")
	}
}

// --- コンテキストヘルパーのテスト ---

func TestUserIDFromContext_NotSet_ReturnsError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)

	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for context without user ID")
	}
}

func TestContextWithUserID_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "user-ctx")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if userID != "user-ctx" {
		t.Errorf("userID = %q, want %q", userID, "user-ctx")
	}
}
