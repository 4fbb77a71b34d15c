// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/prdatur/soopfw-openid/internal/account"
	"github.com/prdatur/soopfw-openid/internal/auth"
	"github.com/prdatur/soopfw-openid/internal/middleware"
	"github.com/prdatur/soopfw-openid/internal/model"
)

// identityFormField はログインフォームでOpenIDを入力するフィールド名。
const identityFormField = "openid_user"

// LoginController はログインフローを1回分処理する。
type LoginController interface {
	Login(ctx context.Context, identityURL string, r *http.Request) auth.Outcome
}

// SessionService はログアウトとログイン中アカウントの取得を提供する。
type SessionService interface {
	Logout(ctx context.Context, sessionID string) error
	GetCurrentAccount(ctx context.Context, sessionID string) (*model.Account, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOpenIDログインとセッション関連のHTTPハンドラー。
type AuthHandler struct {
	controller LoginController
	sessions   SessionService
	config     AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(controller LoginController, sessions SessionService, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		controller: controller,
		sessions:   sessions,
		config:     config,
	}
}

// Login はフォームで入力されたOpenIDでログインを開始する。
// POST /openid/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	identity := r.PostFormValue(identityFormField)
	if identity == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidIdentityError(""))
		return
	}

	outcome := h.controller.Login(requestContext(r), identity, r)
	h.writeOutcome(w, r, outcome)
}

// Callback はプロバイダーからの戻りを処理する。
// GET|POST /openid/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	outcome := h.controller.Login(requestContext(r), "", r)
	h.writeOutcome(w, r, outcome)
}

// writeOutcome はログイン結果をHTTPレスポンスに変換する。
func (h *AuthHandler) writeOutcome(w http.ResponseWriter, r *http.Request, outcome auth.Outcome) {
	switch outcome.State {
	case auth.StateRedirectIssued:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)

	case auth.StateCompleted:
		if !outcome.Authenticated || outcome.Session == nil {
			apiErr := outcome.Error
			if apiErr == nil {
				apiErr = model.NewLoginFailedError()
			}
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
			return
		}
		h.setSessionCookie(w, outcome.Session.ID, h.config.SessionMaxAge)
		http.Redirect(w, r, h.config.BaseURL, http.StatusFound)

	case auth.StateRejected:
		slog.Info("openid login rejected",
			slog.String("reason", outcome.Reason),
		)
		status, apiErr := rejectionResponse(outcome)
		middleware.WriteErrorResponse(w, status, apiErr)

	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewNoLoginRequestError())
	}
}

// rejectionResponse は拒否理由に対応するステータスコードとエラーを返す。
// 表示用のエラーがない拒否理由は汎用のエラーに置き換える。
func rejectionResponse(outcome auth.Outcome) (int, *model.APIError) {
	status := http.StatusUnauthorized
	var fallback *model.APIError

	switch outcome.Reason {
	case auth.ReasonInvalidIdentity:
		status = http.StatusBadRequest
	case auth.ReasonDiscoveryFailed:
		status = http.StatusBadGateway
	case auth.ReasonAssertionInvalid, auth.ReasonNotVerified:
		fallback = model.NewNotVerifiedError()
	case auth.ReasonIdentifierTaken:
		status = http.StatusConflict
	case auth.ReasonMissingAttribute:
		status = http.StatusUnprocessableEntity
	case auth.ReasonPersistenceFailed:
		status = http.StatusInternalServerError
	}

	if outcome.Error != nil {
		return status, outcome.Error
	}
	if fallback == nil {
		fallback = model.NewLoginFailedError()
	}
	return status, fallback
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.sessions.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.setSessionCookie(w, "", -1)
	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// meResponse はGET /auth/meのレスポンス。
type meResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	AccountType string    `json:"account_type"`
	Language    string    `json:"language"`
	Registered  time.Time `json:"registered"`
	LastLogin   time.Time `json:"last_login"`
}

// Me は現在のログインアカウント情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	acct, err := h.sessions.GetCurrentAccount(r.Context(), cookie.Value)
	if err != nil && !errors.Is(err, auth.ErrAccountNotFound) {
		slog.Error("failed to get current account", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if acct == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		ID:          acct.ID,
		Username:    acct.Username,
		AccountType: string(acct.AccountType),
		Language:    acct.Language,
		Registered:  acct.Registered,
		LastLogin:   acct.LastLogin,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requestContext はAccept-Languageの先頭の言語をcontextに格納する。
// 解釈できない場合は設定の既定言語が使われる。
func requestContext(r *http.Request) context.Context {
	if lang := preferredLanguage(r.Header.Get("Accept-Language")); lang != "" {
		return account.WithLanguage(r.Context(), lang)
	}
	return r.Context()
}

// preferredLanguage はAccept-Languageヘッダーから最も優先度の高い言語の基本コードを返す。
func preferredLanguage(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, confidence := tags[0].Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}
