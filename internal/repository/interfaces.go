// Package repository はデータ永続化のインターフェースとPostgreSQL/MongoDB実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/prdatur/soopfw-openid/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 同一識別子での同時ログインなど、作成が競合した場合に返される。
var ErrDuplicate = errors.New("duplicate key")

// AccountRepository はアカウントと既定住所の永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByIdentity はidentity slotでアカウントを検索する。
	// accountTypeが空の場合は種別を問わない。見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, identity string, accountType model.AccountType) (*model.Account, error)

	// UsernameExists は全種別のアカウントを対象にユーザー名の使用有無を返す。
	UsernameExists(ctx context.Context, username string) (bool, error)

	// FindDefaultAddress はアカウントの既定住所を取得する。未作成の場合はnilを返す。
	FindDefaultAddress(ctx context.Context, accountID string) (*model.Address, error)

	// CreateWithAddress はアカウントと既定住所を同一トランザクションで作成する。
	// 一意制約違反の場合はErrDuplicateをラップしたエラーを返す。
	CreateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error

	// UpdateWithAddress はアカウントと既定住所を同一トランザクションで更新する。
	// 既定住所が未作成の場合は作成する。address.IDは呼び出し側で採番しておくこと。
	UpdateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error

	// TouchLastLogin は最終ログイン日時のみを更新する。
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByAccountID は指定アカウントの全セッションを削除する。
	DeleteByAccountID(ctx context.Context, accountID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
