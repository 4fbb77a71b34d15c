package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/prdatur/soopfw-openid/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

const accountColumns = `id, username, identity_slot, account_type, language, registered, last_login, parent_id`

const addressColumns = `id, account_id, address_group, title, firstname, lastname, email, phone, mobile, fax,
	address, address2, city, nation, zip`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByIdentity はidentity slotでアカウントを検索する。
// accountTypeが空の場合は種別を問わず最初に登録されたアカウントを返す。
func (r *PostgresAccountRepo) FindByIdentity(ctx context.Context, identity string, accountType model.AccountType) (*model.Account, error) {
	var row *sql.Row
	if accountType == "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE identity_slot = $1 ORDER BY registered LIMIT 1`,
			identity,
		)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE identity_slot = $1 AND account_type = $2`,
			identity, string(accountType),
		)
	}
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by identity: %w", err)
	}
	return account, nil
}

// UsernameExists は全種別のアカウントを対象にユーザー名の使用有無を返す。
func (r *PostgresAccountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// FindDefaultAddress はアカウントの既定住所を取得する。未作成の場合はnilを返す。
func (r *PostgresAccountRepo) FindDefaultAddress(ctx context.Context, accountID string) (*model.Address, error) {
	addr := &model.Address{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM account_addresses WHERE account_id = $1 AND address_group = $2`,
		accountID, model.AddressGroupDefault,
	).Scan(
		&addr.ID, &addr.AccountID, &addr.Group, &addr.Title, &addr.Firstname, &addr.Lastname,
		&addr.Email, &addr.Phone, &addr.Mobile, &addr.Fax, &addr.Address, &addr.Address2,
		&addr.City, &addr.Nation, &addr.Zip,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find default address: %w", err)
	}
	return addr, nil
}

// CreateWithAddress はアカウントと既定住所を同一トランザクションで作成する。
func (r *PostgresAccountRepo) CreateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Username, account.IdentitySlot, string(account.AccountType),
		account.Language, account.Registered, nullTime(account.LastLogin), account.ParentID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", wrapDuplicate(err))
	}

	if err := insertAddress(ctx, tx, address); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateWithAddress はアカウントと既定住所を同一トランザクションで更新する。
// 既定住所が未作成の場合は作成する。
func (r *PostgresAccountRepo) UpdateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET username = $2, identity_slot = $3, account_type = $4, language = $5,
		     registered = $6, last_login = $7, parent_id = $8
		 WHERE id = $1`,
		account.ID, account.Username, account.IdentitySlot, string(account.AccountType),
		account.Language, account.Registered, nullTime(account.LastLogin), account.ParentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", wrapDuplicate(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", account.ID)
	}

	if address.ID == "" {
		return fmt.Errorf("address ID must be assigned before update")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO account_addresses (`+addressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (account_id, address_group) DO UPDATE SET
		     title = EXCLUDED.title, firstname = EXCLUDED.firstname, lastname = EXCLUDED.lastname,
		     email = EXCLUDED.email, phone = EXCLUDED.phone, mobile = EXCLUDED.mobile,
		     fax = EXCLUDED.fax, address = EXCLUDED.address, address2 = EXCLUDED.address2,
		     city = EXCLUDED.city, nation = EXCLUDED.nation, zip = EXCLUDED.zip`,
		addressArgs(address)...,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert address: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TouchLastLogin は最終ログイン日時のみを更新する。
func (r *PostgresAccountRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_login = $2 WHERE id = $1`,
		accountID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func insertAddress(ctx context.Context, tx *sql.Tx, address *model.Address) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO account_addresses (`+addressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		addressArgs(address)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert address: %w", wrapDuplicate(err))
	}
	return nil
}

func addressArgs(a *model.Address) []any {
	group := a.Group
	if group == "" {
		group = model.AddressGroupDefault
	}
	return []any{
		a.ID, a.AccountID, group, a.Title, a.Firstname, a.Lastname, a.Email, a.Phone,
		a.Mobile, a.Fax, a.Address, a.Address2, a.City, a.Nation, a.Zip,
	}
}

// scanAccount は1行をアカウントに変換する。行がない場合はnil, nilを返す。
func scanAccount(row *sql.Row) (*model.Account, error) {
	account := &model.Account{}
	var accountType string
	var lastLogin sql.NullTime
	err := row.Scan(
		&account.ID, &account.Username, &account.IdentitySlot, &accountType,
		&account.Language, &account.Registered, &lastLogin, &account.ParentID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	account.AccountType = model.AccountType(accountType)
	if lastLogin.Valid {
		account.LastLogin = lastLogin.Time
	}
	return account, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// wrapDuplicate は一意制約違反をErrDuplicateに変換する。
func wrapDuplicate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
