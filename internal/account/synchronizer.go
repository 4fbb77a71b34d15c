package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prdatur/soopfw-openid/internal/attribute"
	"github.com/prdatur/soopfw-openid/internal/audit"
	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/repository"
	"github.com/prdatur/soopfw-openid/internal/security"
)

// protectedFields はプロバイダー属性から設定させないシステム管理のフィールド。
// usernameはResolverが一意性を確認したうえで決定する。
var protectedFields = map[string]bool{
	model.FieldUsername:    true,
	model.FieldAccountType: true,
	model.FieldRegistered:  true,
	model.FieldLastLogin:   true,
	model.FieldParentID:    true,
}

// SyncConfig は同期ポリシーの設定。
type SyncConfig struct {
	// AlwaysSync が真の場合はログインのたびに属性を反映する。
	// 偽の場合は作成時の1回だけ反映し、以降は最終ログイン日時のみ更新する。
	AlwaysSync bool
	// DefaultLanguage はcontextに言語がない場合の既定言語。
	DefaultLanguage string
}

// Synchronizer はプロバイダー属性をアカウントと既定住所に反映し永続化する。
type Synchronizer struct {
	repo      repository.AccountRepository
	mapper    *attribute.Mapper
	sanitizer security.ProfileSanitizerService
	audit     audit.Sink
	config    SyncConfig

	now   func() time.Time
	newID func() string
}

// NewSynchronizer はSynchronizerを生成する。
func NewSynchronizer(
	repo repository.AccountRepository,
	mapper *attribute.Mapper,
	sanitizer security.ProfileSanitizerService,
	sink audit.Sink,
	config SyncConfig,
) *Synchronizer {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Synchronizer{
		repo:      repo,
		mapper:    mapper,
		sanitizer: sanitizer,
		audit:     sink,
		config:    config,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Synchronize はアカウントに属性とシステム既定値を反映して保存する。
// isNewが真の場合はアカウントと既定住所を作成し、監査イベントを記録する。
// 既存アカウントでAlwaysSyncが偽の場合は最終ログイン日時のみ更新する。
func (s *Synchronizer) Synchronize(ctx context.Context, acct *model.Account, isNew bool, attrs model.Attributes) error {
	now := s.now()

	if !isNew && !s.config.AlwaysSync {
		if err := s.repo.TouchLastLogin(ctx, acct.ID, now); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
		}
		acct.LastLogin = now
		return nil
	}

	fields := s.buildFields(ctx, attrs)

	acct.LastLogin = now
	if isNew {
		if acct.ID == "" {
			acct.ID = s.newID()
		}
		acct.Registered = now
		acct.AccountType = model.AccountTypeOpenID
		acct.ParentID = 0
	}

	address, err := s.resolveAddress(ctx, acct, isNew)
	if err != nil {
		return err
	}

	acct.ApplyFields(fields)
	address.ApplyFields(fields)

	if isNew {
		return s.create(ctx, acct, address)
	}

	if err := s.repo.UpdateWithAddress(ctx, acct, address); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	slog.Info("account synchronized",
		slog.String("account_id", acct.ID),
		slog.Int("fields", len(fields)),
	)
	return nil
}

// buildFields はシステム既定値に写像済み属性を重ねた値セットを組み立てる。
func (s *Synchronizer) buildFields(ctx context.Context, attrs model.Attributes) map[string]string {
	lang, ok := LanguageFromContext(ctx)
	if !ok {
		lang = s.config.DefaultLanguage
	}
	fields := map[string]string{
		model.FieldLanguage: lang,
	}

	for field, value := range s.mapper.Map(attrs) {
		if protectedFields[field] {
			continue
		}
		value = s.sanitizer.Sanitize(value)
		if field == model.FieldLanguage && value == "" {
			continue
		}
		fields[field] = value
	}
	return fields
}

// resolveAddress はアカウントの既定住所を返す。未作成の場合は新しい住所を用意する。
func (s *Synchronizer) resolveAddress(ctx context.Context, acct *model.Account, isNew bool) (*model.Address, error) {
	if !isNew {
		address, err := s.repo.FindDefaultAddress(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
		}
		if address != nil {
			return address, nil
		}
	}
	return &model.Address{
		ID:        s.newID(),
		AccountID: acct.ID,
		Group:     model.AddressGroupDefault,
	}, nil
}

func (s *Synchronizer) create(ctx context.Context, acct *model.Account, address *model.Address) error {
	if address.Email == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequiredAttribute, attribute.KeyEmail)
	}

	if err := s.repo.CreateWithAddress(ctx, acct, address); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	name := acct.Username
	if name == "" {
		name = acct.ID
	}
	s.audit.Record(
		fmt.Sprintf("User created from OpenID login handler %q", name),
		audit.CategorySession,
		audit.SeverityNotice,
	)
	slog.Info("account created",
		slog.String("account_id", acct.ID),
		slog.String("username", acct.Username),
	)
	return nil
}
