package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prdatur/soopfw-openid/internal/account"
	"github.com/prdatur/soopfw-openid/internal/attribute"
	"github.com/prdatur/soopfw-openid/internal/audit"
	"github.com/prdatur/soopfw-openid/internal/auth"
	"github.com/prdatur/soopfw-openid/internal/middleware"
	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/security"
)

// --- 統合テスト用のステートフルモック ---

// memAccountRepo はメモリ上のAccountRepository。
type memAccountRepo struct {
	mu        sync.Mutex
	accounts  map[string]model.Account
	addresses map[string]model.Address
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		accounts:  make(map[string]model.Account),
		addresses: make(map[string]model.Address),
	}
}

func (m *memAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (m *memAccountRepo) FindByIdentity(_ context.Context, identity string, accountType model.AccountType) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.IdentitySlot == identity && (accountType == "" || acct.AccountType == accountType) {
			found := acct
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memAccountRepo) UsernameExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccountRepo) FindDefaultAddress(_ context.Context, accountID string) (*model.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addresses[accountID]
	if !ok {
		return nil, nil
	}
	return &addr, nil
}

func (m *memAccountRepo) CreateWithAddress(_ context.Context, acct *model.Account, addr *model.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = *acct
	m.addresses[acct.ID] = *addr
	return nil
}

func (m *memAccountRepo) UpdateWithAddress(_ context.Context, acct *model.Account, addr *model.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = *acct
	m.addresses[acct.ID] = *addr
	return nil
}

func (m *memAccountRepo) TouchLastLogin(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.accounts[accountID]
	acct.LastLogin = at
	m.accounts[accountID] = acct
	return nil
}

// memSessionRepo はメモリ上のSessionRepository。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func (m *memSessionRepo) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionRepo) DeleteByAccountID(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.AccountID == accountID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// fakeProvider はOpenIDプロバイダーの応答を模擬するクライアント。
// コールバックのクエリのclaimed_idをそのまま検証済み識別子として返す。
type fakeProvider struct {
	attrs model.Attributes
}

func (p *fakeProvider) AuthRedirect(_ context.Context, identity string, required, optional []string) (string, error) {
	return "https://op.example/auth?openid.identity=" + url.QueryEscape(identity), nil
}

func (p *fakeProvider) IsCallback(r *http.Request) bool {
	return r.FormValue("openid.mode") != ""
}

func (p *fakeProvider) ValidateAssertion(_ context.Context, r *http.Request) (bool, string, error) {
	if r.FormValue("openid.mode") != "id_res" {
		return false, "", nil
	}
	return true, r.FormValue("openid.claimed_id"), nil
}

func (p *fakeProvider) FetchAttributes(r *http.Request) model.Attributes {
	return p.attrs
}

type integrationEnv struct {
	router   http.Handler
	accounts *memAccountRepo
	provider *fakeProvider
	limiter  *middleware.RateLimiter
}

// newIntegrationEnv はモックのプロバイダー以外を実装で組み立てたルーターを返す。
func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	accounts := newMemAccountRepo()
	sessions := &memSessionRepo{sessions: make(map[string]model.Session)}
	provider := &fakeProvider{
		attrs: model.Attributes{
			{Key: attribute.KeyEmail, Value: "alice@example.com"},
			{Key: attribute.KeyFriendly, Value: "alice"},
			{Key: "namePerson/first", Value: "Alice"},
		},
	}

	synchronizer := account.NewSynchronizer(
		accounts,
		attribute.NewMapper(attribute.DefaultDictionary()),
		security.NewProfileSanitizer(),
		audit.NopSink{},
		account.SyncConfig{AlwaysSync: true, DefaultLanguage: "en"},
	)
	resolver := account.NewResolver(accounts, synchronizer)
	sessionService := auth.NewService(accounts, sessions, auth.ServiceConfig{SessionMaxAge: 3600})
	controller := auth.NewController(provider, resolver, sessionService, nil)

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		SessionFinder: sessions,
		RateLimiter:   limiter,
		Controller:    controller,
		Sessions:      sessionService,
		AuthConfig:    AuthHandlerConfig{BaseURL: "http://localhost:3000", SessionMaxAge: 3600},
	})

	return &integrationEnv{router: router, accounts: accounts, provider: provider, limiter: limiter}
}

func (e *integrationEnv) callback(claimedID string) *http.Response {
	form := url.Values{
		"openid.mode":       {"id_res"},
		"openid.claimed_id": {claimedID},
	}
	req := httptest.NewRequest(http.MethodPost, "/openid/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func (e *integrationEnv) me(sessionID string) *http.Response {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func sessionCookieValue(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Value
		}
	}
	return ""
}

// --- 統合テスト ---

func TestIntegration_LoginCallbackMeLogout(t *testing.T) {
	env := newIntegrationEnv(t)

	// 1. CSRFトークン取得
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	var tokenBody struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&tokenBody); err != nil {
		t.Fatalf("failed to decode csrf token: %v", err)
	}

	// 2. ログイン開始 → プロバイダーへリダイレクト
	form := url.Values{"openid_user": {"alice.example"}, "csrf_token": {tokenBody.Token}}
	req := httptest.NewRequest(http.MethodPost, "/openid/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: tokenBody.Token})
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusFound {
		t.Fatalf("login status = %d, want %d", w.Result().StatusCode, http.StatusFound)
	}
	if loc := w.Result().Header.Get("Location"); !strings.HasPrefix(loc, "https://op.example/auth") {
		t.Fatalf("Location = %q", loc)
	}

	// 3. コールバック → アカウント作成とセッション発行
	resp := env.callback("https://alice.example/")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	sessionID := sessionCookieValue(resp)
	if sessionID == "" {
		t.Fatal("expected session cookie after callback")
	}

	// 4. ログイン中アカウントの取得
	meResp := env.me(sessionID)
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want %d", meResp.StatusCode, http.StatusOK)
	}
	var me meResponse
	if err := json.NewDecoder(meResp.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode me: %v", err)
	}
	if me.Username != "alice" || me.AccountType != "openid" || me.Language != "en" {
		t.Errorf("unexpected account: %+v", me)
	}

	addr, _ := env.accounts.FindDefaultAddress(context.Background(), me.ID)
	if addr == nil || addr.Email != "alice@example.com" || addr.Firstname != "Alice" {
		t.Errorf("unexpected default address: %+v", addr)
	}

	// 5. ログアウト
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: tokenBody.Token})
	req.Header.Set("X-CSRF-Token", tokenBody.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusFound {
		t.Fatalf("logout status = %d, want %d", w.Result().StatusCode, http.StatusFound)
	}
	if resp := env.me(sessionID); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestIntegration_RepeatLogin_ReusesAccount(t *testing.T) {
	env := newIntegrationEnv(t)

	first := env.callback("https://alice.example/")
	second := env.callback("https://alice.example/")

	if first.StatusCode != http.StatusFound || second.StatusCode != http.StatusFound {
		t.Fatalf("status = %d/%d, want 302/302", first.StatusCode, second.StatusCode)
	}
	if len(env.accounts.accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(env.accounts.accounts))
	}
	if sessionCookieValue(first) == sessionCookieValue(second) {
		t.Error("each login should issue a new session")
	}
}

func TestIntegration_IdentifierTakenByOtherHandler_Returns409(t *testing.T) {
	env := newIntegrationEnv(t)
	env.accounts.accounts["local-1"] = model.Account{
		ID:           "local-1",
		Username:     "bob",
		IdentitySlot: "https://alice.example/",
		AccountType:  model.AccountTypeLocal,
	}

	resp := env.callback("https://alice.example/")

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if sessionCookieValue(resp) != "" {
		t.Error("no session should be issued")
	}
	if len(env.accounts.accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(env.accounts.accounts))
	}
}

func TestIntegration_MissingEmail_Returns422(t *testing.T) {
	env := newIntegrationEnv(t)
	env.provider.attrs = model.Attributes{{Key: attribute.KeyFriendly, Value: "alice"}}

	resp := env.callback("https://alice.example/")

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeMissingAttribute {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingAttribute)
	}
	if len(env.accounts.accounts) != 0 {
		t.Errorf("accounts = %d, want 0", len(env.accounts.accounts))
	}
}

func TestIntegration_CancelledAssertion_NoAccount(t *testing.T) {
	env := newIntegrationEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/openid/callback?openid.mode=cancel", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(env.accounts.accounts) != 0 {
		t.Errorf("accounts = %d, want 0", len(env.accounts.accounts))
	}
}
