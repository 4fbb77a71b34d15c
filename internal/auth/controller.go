package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prdatur/soopfw-openid/internal/account"
	"github.com/prdatur/soopfw-openid/internal/attribute"
	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/openid"
)

// OpenIDClient はプロバイダーとのやり取りを行うOpenIDクライアント。
type OpenIDClient interface {
	// AuthRedirect はidentityのプロバイダーの認証画面へのURLを返す。
	AuthRedirect(ctx context.Context, identity string, required, optional []string) (string, error)
	// IsCallback はリクエストがプロバイダーからの戻りかを返す。
	IsCallback(r *http.Request) bool
	// ValidateAssertion はアサーションを検証し、claimed identifierを返す。
	ValidateAssertion(ctx context.Context, r *http.Request) (bool, string, error)
	// FetchAttributes はアサーションに含まれる属性を返す。
	FetchAttributes(r *http.Request) model.Attributes
}

// AccountResolver は外部識別子をローカルアカウントに解決する。
type AccountResolver interface {
	Resolve(ctx context.Context, verified bool, externalID string, attrs model.Attributes) (*model.Account, error)
}

// SessionIssuer は解決済みアカウントのログインを確定する。
type SessionIssuer interface {
	ValidateLogin(ctx context.Context, account *model.Account) (*model.Session, error)
}

// LoginObserver はログイン試行の結果を記録する。
type LoginObserver interface {
	ObserveLogin(state, reason string)
	ObserveCallback(d time.Duration)
}

// State はログイン試行の終了状態。
type State int

const (
	// StateSkipped はOpenIDログインの要求ではなかったことを表す。他のログイン方法に委ねる。
	StateSkipped State = iota
	// StateRedirectIssued はプロバイダーへのリダイレクトを発行したことを表す。
	StateRedirectIssued
	// StateCompleted はアカウントの解決が完了したことを表す。結果はOutcome.Authenticated。
	StateCompleted
	// StateRejected はログインを拒否したことを表す。
	StateRejected
)

// String はメトリクスのラベルに使う状態名を返す。
func (s State) String() string {
	switch s {
	case StateSkipped:
		return "skipped"
	case StateRedirectIssued:
		return "redirect_issued"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// 拒否・失敗の理由。
const (
	ReasonInvalidIdentity   = "invalid_identity"
	ReasonDiscoveryFailed   = "discovery_failed"
	ReasonAssertionInvalid  = "assertion_invalid"
	ReasonNotVerified       = "not_verified"
	ReasonIdentifierTaken   = "identifier_taken"
	ReasonMissingAttribute  = "missing_attribute"
	ReasonPersistenceFailed = "persistence_failed"
	ReasonSessionFailed     = "session_failed"
)

// Outcome はログイン試行の結果。
type Outcome struct {
	State State
	// RedirectURL はStateRedirectIssuedのときのプロバイダーの認証URL。
	RedirectURL string
	// Authenticated はStateCompletedのときのログインの成否。
	Authenticated bool
	Account       *model.Account
	Session       *model.Session
	// Reason は拒否・失敗の理由。成功時は空。
	Reason string
	// Error はユーザーに表示するエラー。表示しない失敗ではnil。
	Error *model.APIError
}

// Controller はOpenIDログインの各段階（リダイレクト・コールバック・確定）を制御する。
type Controller struct {
	client   OpenIDClient
	resolver AccountResolver
	sessions SessionIssuer
	observer LoginObserver
	required []string
	optional []string
	now      func() time.Time
}

// NewController はControllerを生成する。observerはnilでもよい。
func NewController(client OpenIDClient, resolver AccountResolver, sessions SessionIssuer, observer LoginObserver) *Controller {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Controller{
		client:   client,
		resolver: resolver,
		sessions: sessions,
		observer: observer,
		required: attribute.RequiredKeys(),
		optional: attribute.OptionalKeys(),
		now:      time.Now,
	}
}

// Login はログイン試行を1回処理する。
// identityURLが指定されていればリダイレクトを発行し、
// プロバイダーからの戻りであればアカウントを解決してログインを確定する。
// どちらでもなければ何もせずStateSkippedを返す。
func (c *Controller) Login(ctx context.Context, identityURL string, r *http.Request) Outcome {
	var out Outcome
	switch {
	case strings.TrimSpace(identityURL) != "":
		out = c.redirect(ctx, identityURL)
	case r != nil && c.client.IsCallback(r):
		start := c.now()
		out = c.callback(ctx, r)
		c.observer.ObserveCallback(c.now().Sub(start))
	default:
		return Outcome{State: StateSkipped}
	}

	c.observer.ObserveLogin(out.State.String(), out.Reason)
	return out
}

func (c *Controller) redirect(ctx context.Context, identityURL string) Outcome {
	redirectURL, err := c.client.AuthRedirect(ctx, identityURL, c.required, c.optional)
	if err != nil {
		if errors.Is(err, openid.ErrInvalidIdentity) {
			return rejected(ReasonInvalidIdentity, model.NewInvalidIdentityError(identityURL))
		}
		slog.Warn("failed to build openid redirect",
			slog.String("identity", identityURL),
			slog.String("error", err.Error()),
		)
		return rejected(ReasonDiscoveryFailed, model.NewDiscoveryFailedError())
	}
	return Outcome{State: StateRedirectIssued, RedirectURL: redirectURL}
}

func (c *Controller) callback(ctx context.Context, r *http.Request) Outcome {
	verified, externalID, err := c.client.ValidateAssertion(ctx, r)
	if err != nil {
		slog.Warn("openid assertion rejected", slog.String("error", err.Error()))
		return rejected(ReasonAssertionInvalid, nil)
	}

	var attrs model.Attributes
	if verified {
		attrs = c.client.FetchAttributes(r)
	}

	acct, err := c.resolver.Resolve(ctx, verified, externalID, attrs)
	if err != nil {
		return resolutionFailure(externalID, err)
	}

	session, err := c.sessions.ValidateLogin(ctx, acct)
	if err != nil {
		slog.Error("failed to issue session",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
		return Outcome{
			State:   StateCompleted,
			Account: acct,
			Reason:  ReasonSessionFailed,
			Error:   model.NewLoginFailedError(),
		}
	}

	return Outcome{
		State:         StateCompleted,
		Authenticated: true,
		Account:       acct,
		Session:       session,
	}
}

// resolutionFailure は解決エラーを拒否結果に変換する。
// メッセージを表示するのは識別子の衝突と必須属性の欠落のみ。
func resolutionFailure(externalID string, err error) Outcome {
	switch {
	case errors.Is(err, account.ErrNotVerified):
		return rejected(ReasonNotVerified, nil)
	case errors.Is(err, account.ErrIdentifierTaken):
		slog.Info("openid identity bound to another login handler", slog.String("identity", externalID))
		return rejected(ReasonIdentifierTaken, model.NewIdentifierTakenError())
	case errors.Is(err, account.ErrMissingRequiredAttribute):
		slog.Info("openid provider did not supply e-mail", slog.String("identity", externalID))
		return rejected(ReasonMissingAttribute, model.NewMissingAttributeError())
	default:
		slog.Error("failed to resolve openid account",
			slog.String("identity", externalID),
			slog.String("error", err.Error()),
		)
		return rejected(ReasonPersistenceFailed, nil)
	}
}

func rejected(reason string, apiErr *model.APIError) Outcome {
	return Outcome{State: StateRejected, Reason: reason, Error: apiErr}
}

type nopObserver struct{}

func (nopObserver) ObserveLogin(string, string)   {}
func (nopObserver) ObserveCallback(time.Duration) {}
