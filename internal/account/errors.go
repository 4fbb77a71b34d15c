// Package account はOpenIDの外部識別子とローカルアカウントの対応付け（解決）と、
// プロバイダー属性のアカウントへの同期を提供する。
package account

import "errors"

// 解決・同期の失敗種別。呼び出し側はerrors.Isで判別する。
var (
	// ErrNotVerified はアサーションも既知の識別子もないことを表す。
	// このログインハンドラーを見送るだけで、ユーザーへのエラーではない。
	ErrNotVerified = errors.New("openid assertion not verified")

	// ErrIdentifierTaken は識別子が別のログインハンドラーのアカウントで使用済みであることを表す。
	ErrIdentifierTaken = errors.New("username already used by another login handler")

	// ErrMissingRequiredAttribute は新規作成に必須の属性（メールアドレス）がないことを表す。
	ErrMissingRequiredAttribute = errors.New("required attribute missing")

	// ErrPersistenceFailed はアカウントの参照・作成・更新に失敗したことを表す。
	ErrPersistenceFailed = errors.New("account persistence failed")
)
