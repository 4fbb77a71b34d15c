// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeIdentifierTaken  = "IDENTIFIER_TAKEN"
	ErrCodeMissingAttribute = "MISSING_REQUIRED_ATTRIBUTE"
	ErrCodeNotVerified      = "NOT_VERIFIED"
	ErrCodeLoginFailed      = "LOGIN_FAILED"
	ErrCodeInvalidIdentity  = "INVALID_IDENTITY"
	ErrCodeDiscoveryFailed  = "DISCOVERY_FAILED"
	ErrCodeNoLoginRequest   = "NO_LOGIN_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCSRFInvalid      = "CSRF_INVALID"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewIdentifierTakenError は識別子が別のログインハンドラーのアカウントで使用済みの場合のエラーを生成する。
func NewIdentifierTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentifierTaken,
		Message:  "This username is already used by another login handler. You can not use this username anymore.",
		Category: "auth",
		Action:   "Sign in with the login method that created this account.",
	}
}

// NewMissingAttributeError はプロバイダーがメールアドレスを提供しなかった場合のエラーを生成する。
func NewMissingAttributeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAttribute,
		Message:  "The OpenID provider did not supply an e-mail address.",
		Category: "auth",
		Action:   "Allow the provider to share your e-mail address and try again.",
	}
}

// NewNotVerifiedError はアサーションが検証できなかった場合のエラーを生成する。
func NewNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotVerified,
		Message:  "The OpenID login was not completed.",
		Category: "auth",
		Action:   "Start the login again.",
	}
}

// NewLoginFailedError はアカウントの保存やセッション発行に失敗した場合のエラーを生成する。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "Login failed.",
		Category: "auth",
		Action:   "Please try again later.",
	}
}

// NewInvalidIdentityError は入力されたOpenID識別子が使用できない場合のエラーを生成する。
func NewInvalidIdentityError(identity string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentity,
		Message:  fmt.Sprintf("Invalid OpenID identifier: %s", identity),
		Category: "validation",
		Action:   "Enter the URL of your OpenID provider or your OpenID. Local network addresses are not allowed.",
	}
}

// NewDiscoveryFailedError はOpenIDプロバイダーを発見できなかった場合のエラーを生成する。
func NewDiscoveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeDiscoveryFailed,
		Message:  "No OpenID provider could be found for this identifier.",
		Category: "auth",
		Action:   "Check the identifier and try again later.",
	}
}

// NewNoLoginRequestError はOpenID識別子もプロバイダーからの戻りも含まないリクエストのエラーを生成する。
func NewNoLoginRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeNoLoginRequest,
		Message:  "No OpenID identifier was supplied.",
		Category: "validation",
		Action:   "Enter your OpenID.",
	}
}

// NewUnauthorizedError は未認証のリクエストに対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "Account not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewRateLimitedError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewCSRFInvalidError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed.",
		Category: "validation",
		Action:   "Reload the page and try again.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
