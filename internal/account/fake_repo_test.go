package account

import (
	"context"
	"fmt"
	"time"

	"github.com/prdatur/soopfw-openid/internal/audit"
	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/repository"
)

// fakeAccountRepo はメモリ上でAccountRepositoryを実装するテスト用リポジトリ。
// 一意制約はPostgreSQLのインデックスと同じ条件で判定する。
// *Errフィールドを設定すると該当操作がそのエラーを返す。
type fakeAccountRepo struct {
	accounts  map[string]model.Account
	addresses map[string]model.Address

	findErr   error
	existsErr error
	createErr error
	updateErr error
	touchErr  error

	createCalls int
	updateCalls int
	touchCalls  int
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts:  make(map[string]model.Account),
		addresses: make(map[string]model.Address),
	}
}

// seed はアカウントを直接登録する。
func (f *fakeAccountRepo) seed(acct model.Account, addr *model.Address) {
	f.accounts[acct.ID] = acct
	if addr != nil {
		f.addresses[acct.ID] = *addr
	}
}

func (f *fakeAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	acct, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (f *fakeAccountRepo) FindByIdentity(_ context.Context, identity string, accountType model.AccountType) (*model.Account, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, acct := range f.accounts {
		if acct.IdentitySlot != identity {
			continue
		}
		if accountType != "" && acct.AccountType != accountType {
			continue
		}
		found := acct
		return &found, nil
	}
	return nil, nil
}

func (f *fakeAccountRepo) UsernameExists(_ context.Context, username string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, acct := range f.accounts {
		if acct.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccountRepo) FindDefaultAddress(_ context.Context, accountID string) (*model.Address, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	addr, ok := f.addresses[accountID]
	if !ok {
		return nil, nil
	}
	return &addr, nil
}

func (f *fakeAccountRepo) CreateWithAddress(_ context.Context, acct *model.Account, addr *model.Address) error {
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.checkUnique(acct); err != nil {
		return err
	}
	f.accounts[acct.ID] = *acct
	f.addresses[acct.ID] = *addr
	return nil
}

func (f *fakeAccountRepo) UpdateWithAddress(_ context.Context, acct *model.Account, addr *model.Address) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.accounts[acct.ID]; !ok {
		return fmt.Errorf("account not found: %s", acct.ID)
	}
	f.accounts[acct.ID] = *acct
	f.addresses[acct.ID] = *addr
	return nil
}

func (f *fakeAccountRepo) TouchLastLogin(_ context.Context, accountID string, at time.Time) error {
	f.touchCalls++
	if f.touchErr != nil {
		return f.touchErr
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return fmt.Errorf("account not found: %s", accountID)
	}
	acct.LastLogin = at
	f.accounts[accountID] = acct
	return nil
}

func (f *fakeAccountRepo) checkUnique(acct *model.Account) error {
	for id, other := range f.accounts {
		if id == acct.ID {
			return fmt.Errorf("%w: accounts_pkey", repository.ErrDuplicate)
		}
		if acct.Username != "" && other.Username == acct.Username {
			return fmt.Errorf("%w: accounts_username_key", repository.ErrDuplicate)
		}
		if acct.IdentitySlot != "" && other.IdentitySlot == acct.IdentitySlot && other.AccountType == acct.AccountType {
			return fmt.Errorf("%w: accounts_identity_type_key", repository.ErrDuplicate)
		}
	}
	return nil
}

var _ repository.AccountRepository = (*fakeAccountRepo)(nil)

// recordingSink は記録された監査イベントを保持する。
type recordingSink struct {
	events []recordedEvent
}

type recordedEvent struct {
	message  string
	category string
	severity string
}

func (s *recordingSink) Record(message, category string, severity audit.Severity) {
	s.events = append(s.events, recordedEvent{message: message, category: category, severity: severity.String()})
}

var _ audit.Sink = (*recordingSink)(nil)
