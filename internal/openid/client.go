// Package openid はOpenID 2.0 Relying Partyとしてのプロバイダー連携を提供する。
// ディスカバリー、アサーションの署名検証はgithub.com/yohcop/openid-goに委譲し、
// このパッケージはSSRF対策済みの通信、nonce・ディスカバリー結果の保存、
// AX/SREG属性の要求と取り出しを担う。
package openid

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yohcop/openid-go"

	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/security"
)

// ErrDiscoveryFailed はidentityからプロバイダーを発見できなかったことを表す。
var ErrDiscoveryFailed = errors.New("openid discovery failed")

// ErrAssertionInvalid はプロバイダーからのアサーションを検証できなかったことを表す。
var ErrAssertionInvalid = errors.New("openid assertion invalid")

// Config はRPClientの設定。
type Config struct {
	// BaseURL はこのサービスの公開URL（realmとreturn_toの基点）。
	BaseURL string
	// CallbackPath はプロバイダーから戻るパス。
	CallbackPath string
	// Timeout はプロバイダーへのHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// TLSConfig はプロバイダーとの通信に使うTLS設定。nilの場合は既定値。
	TLSConfig *tls.Config
}

// RPClient はyohcop/openid-goを使ったOpenIDクライアント。
type RPClient struct {
	oid         *openid.OpenID
	guard       security.SSRFGuardService
	cache       openid.DiscoveryCache
	nonces      openid.NonceStore
	callbackURL string
	realm       string
}

// NewRPClient はRPClientを生成する。
func NewRPClient(cfg Config, guard security.SSRFGuardService, cache openid.DiscoveryCache, nonces openid.NonceStore) (*RPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", cfg.BaseURL)
	}

	httpClient := guard.NewSafeClient(cfg.Timeout, cfg.TLSConfig)

	return &RPClient{
		oid:         openid.NewOpenID(httpClient),
		guard:       guard,
		cache:       cache,
		nonces:      nonces,
		callbackURL: base.String() + cfg.CallbackPath,
		realm:       (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}).String(),
	}, nil
}

// CallbackURL はreturn_toとして使うURLを返す。
func (c *RPClient) CallbackURL() string {
	return c.callbackURL
}

// AuthRedirect はidentityのプロバイダーを発見し、認証画面へのリダイレクトURLを返す。
// requiredとoptionalはAXのキー（例: contact/internet/email）で指定する。
func (c *RPClient) AuthRedirect(ctx context.Context, identity string, required, optional []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return "", err
	}
	if err := c.guard.ValidateURL(normalized); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	redirect, err := c.oid.RedirectURL(normalized, c.callbackURL, c.realm)
	if err != nil {
		slog.Warn("openid discovery failed",
			slog.String("identity", normalized),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	return appendExtensionParams(redirect, required, optional)
}

// IsCallback はリクエストがプロバイダーからの戻りかを返す。
func (c *RPClient) IsCallback(r *http.Request) bool {
	return r.FormValue(paramMode) != ""
}

// ValidateAssertion はプロバイダーのアサーションを検証し、claimed identifierを返す。
// ユーザーがキャンセルした場合など肯定的なアサーションでない場合は(false, "", nil)を返す。
func (c *RPClient) ValidateAssertion(ctx context.Context, r *http.Request) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	params := openidParams(r)
	mode := params.Get(paramMode)
	if mode != modeIDRes {
		slog.Info("openid negative assertion", slog.String("mode", mode))
		return false, "", nil
	}

	id, err := c.oid.Verify(c.callbackURL+"?"+params.Encode(), c.cache, c.nonces)
	if err != nil {
		return false, "", fmt.Errorf("%w: %w", ErrAssertionInvalid, err)
	}
	return true, id, nil
}

// FetchAttributes はアサーションの署名対象に含まれるAX/SREG属性を返す。
// ValidateAssertionで検証済みのリクエストに対して呼び出すこと。
func (c *RPClient) FetchAttributes(r *http.Request) model.Attributes {
	return parseAttributes(openidParams(r))
}
