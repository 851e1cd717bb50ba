// Package provider はホスト型IDサービスのクライアントを提供する。
// OAuthリダイレクトの開始、認可コードの交換、セッションの取得・再取得、
// セッション変化通知の発火を担う。IdentityResolverはこのクライアントを
// SessionProviderとして注入されて使う。
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/idgate/internal/model"
)

// Config はIDサービスクライアントの設定。
type Config struct {
	// BaseURL は認証エンドポイントのベースURL（例: "https://auth.example.com/v1"）。
	BaseURL string
	// APIKey は全リクエストに付与する公開APIキー。
	APIKey string
	// JWTSecret はアクセストークン（HS256）の検証鍵。
	JWTSecret string
	// RedirectURL はOAuthリダイレクトの戻り先。
	RedirectURL string
	// HTTPClient はテスト用にオーバーライド可能。nilの場合はタイムアウト付きで生成する。
	HTTPClient *http.Client
}

// Client はIDサービスのHTTPクライアント。
// 直近のトークンとセッションを保持し、変化時に購読者へ通知する。
type Client struct {
	config Config
	http   *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	session      *model.Session
	callbacks    map[int]func(*model.Session)
	nextID       int
}

// NewClient はClientを生成する。
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		config:    config,
		http:      httpClient,
		callbacks: make(map[int]func(*model.Session)),
	}
}

// SignInURL はOAuth認証開始用のリダイレクトURLを生成する。
// stateはCSRF対策のためコールバックで検証されること。
func (c *Client) SignInURL(providerName, state string) string {
	params := url.Values{
		"provider":    {providerName},
		"redirect_to": {c.config.RedirectURL},
		"state":       {state},
	}
	return c.config.BaseURL + "/authorize?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// userResponse はユーザー情報エンドポイントのレスポンス。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// ExchangeCode は認可コードをトークンに交換し、セッションを確立する。
// 交換に成功するとセッション変化通知が発火する。
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.config.RedirectURL},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, "/token", data, &resp); err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("empty access token in response")
	}

	session, err := c.sessionFromToken(resp.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to parse access token: %w", err)
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken, session)
	return nil
}

// GetSession は現在のセッションを返す。未ログインの場合はnilを返す。
// キャッシュ済みトークンが有効な間はネットワークを介さずに応答する。
// 期限切れの場合はリフレッシュトークンで更新を試みる。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	session := c.session
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}

	// 時計ずれを考慮して30秒の猶予を取る
	if time.Until(session.ExpiresAt) > 30*time.Second {
		return session, nil
	}

	if refreshToken == "" {
		c.clearSession()
		return nil, nil
	}

	refreshed, err := c.refreshGrant(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return refreshed, nil
}

// RefreshSession はプロバイダーのユーザー情報エンドポイントに問い合わせ、
// セッションがサーバー側で参照可能かを確認する。
// まだ参照可能でない場合（401/404）はnilを返す。エラーではない。
// OAuthコールバック直後の伝搬遅延を吸収するためのポーリングに使われる。
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	accessToken := c.accessToken
	c.mu.Unlock()

	if accessToken == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough below
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		// セッションがまだサーバー側に伝搬していない
		return nil, nil
	default:
		return nil, fmt.Errorf("user fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if user.ID == "" {
		return nil, nil
	}

	session, err := c.sessionFromToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	// ユーザー情報エンドポイントの値を正とする
	session.UserID = user.ID
	if user.Email != "" {
		session.Email = user.Email
	}
	if user.UserMetadata != nil {
		session.Metadata = user.UserMetadata
	}

	c.mu.Lock()
	c.session = session
	callbacks := c.snapshotCallbacksLocked()
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(session)
	}
	return session, nil
}

// SignOut はプロバイダー側のセッションを破棄し、ローカルのトークンをクリアする。
// プロバイダーへの通知失敗はローカルのサインアウトを妨げない。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	accessToken := c.accessToken
	c.mu.Unlock()

	var signOutErr error
	if accessToken != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/logout", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+accessToken)
			req.Header.Set("apikey", c.config.APIKey)
			resp, err := c.http.Do(req)
			if err != nil {
				signOutErr = fmt.Errorf("logout request failed: %w", err)
			} else {
				resp.Body.Close()
			}
		}
	}

	c.clearSession()
	return signOutErr
}

// OnSessionChanged はセッション変化通知を購読し、購読解除関数を返す。
func (c *Client) OnSessionChanged(fn func(*model.Session)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.callbacks[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
	}
}

// refreshGrant はリフレッシュトークンで新しいトークンを取得する。
func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (*model.Session, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, "/token", data, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		// リフレッシュ失敗はサインアウトとして扱う
		c.clearSession()
		return nil, nil
	}

	session, err := c.sessionFromToken(resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to parse refreshed token: %w", err)
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken, session)
	return session, nil
}

// postForm はフォームエンコードのPOSTを実行し、JSONレスポンスをデコードする。
func (c *Client) postForm(ctx context.Context, path string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// sessionFromToken はアクセストークン（HS256）を検証し、クレームからセッションを構成する。
func (c *Client) sessionFromToken(accessToken string) (*model.Session, error) {
	token, err := jwt.Parse(accessToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(c.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("empty sub claim")
	}
	email, _ := claims["email"].(string)

	session := &model.Session{
		UserID: sub,
		Email:  email,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		session.Metadata = meta
	}
	return session, nil
}

// setTokens はトークンとセッションを更新し、変化通知を発火する。
func (c *Client) setTokens(accessToken, refreshToken string, session *model.Session) {
	c.mu.Lock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
	c.session = session
	callbacks := c.snapshotCallbacksLocked()
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(session)
	}
}

// clearSession はローカル状態を破棄し、サインアウト通知を発火する。
func (c *Client) clearSession() {
	c.mu.Lock()
	hadSession := c.session != nil
	c.accessToken = ""
	c.refreshToken = ""
	c.session = nil
	callbacks := c.snapshotCallbacksLocked()
	c.mu.Unlock()

	if hadSession {
		for _, fn := range callbacks {
			fn(nil)
		}
	}
}

func (c *Client) snapshotCallbacksLocked() []func(*model.Session) {
	callbacks := make([]func(*model.Session), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		callbacks = append(callbacks, fn)
	}
	return callbacks
}
