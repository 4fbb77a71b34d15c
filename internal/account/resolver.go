package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prdatur/soopfw-openid/internal/attribute"
	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/repository"
)

// Resolver は検証済みの外部識別子からログイン先のローカルアカウントを決定する。
//
// 一意性の確認は読んでから書く楽観的な方式で行う。同時ログインによる競合は
// ストレージの一意制約で検出され、ErrPersistenceFailedとして返る。
type Resolver struct {
	repo repository.AccountRepository
	sync *Synchronizer
}

// NewResolver はResolverを生成する。
func NewResolver(repo repository.AccountRepository, sync *Synchronizer) *Resolver {
	return &Resolver{repo: repo, sync: sync}
}

// Resolve は外部識別子に対応するアカウントを返す。存在しなければ作成する。
//
// verifiedが偽でも識別子があれば既知のセッションとして扱う。
// 識別子が空の場合は検証結果にかかわらずErrNotVerifiedを返す。
// 空の識別子で検索すると他種別のアカウントに一致しうるため。
func (r *Resolver) Resolve(ctx context.Context, verified bool, externalID string, attrs model.Attributes) (*model.Account, error) {
	if externalID == "" {
		if verified {
			slog.Warn("verified assertion without claimed identifier")
		}
		return nil, ErrNotVerified
	}

	existing, err := r.repo.FindByIdentity(ctx, externalID, model.AccountTypeOpenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	if existing != nil {
		if err := r.sync.Synchronize(ctx, existing, false, attrs); err != nil {
			return nil, err
		}
		slog.Info("existing account logged in",
			slog.String("account_id", existing.ID),
		)
		return existing, nil
	}

	other, err := r.repo.FindByIdentity(ctx, externalID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	if other != nil {
		slog.Warn("identifier already bound to another login handler",
			slog.String("account_id", other.ID),
			slog.String("account_type", string(other.AccountType)),
		)
		return nil, ErrIdentifierTaken
	}

	if email, ok := attrs.Get(attribute.KeyEmail); !ok || strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredAttribute, attribute.KeyEmail)
	}

	acct := &model.Account{
		IdentitySlot: externalID,
		AccountType:  model.AccountTypeOpenID,
	}

	username, err := r.candidateUsername(ctx, attrs)
	if err != nil {
		return nil, err
	}
	acct.Username = username

	if err := r.sync.Synchronize(ctx, acct, true, attrs); err != nil {
		return nil, err
	}
	return acct, nil
}

// candidateUsername はnamePerson/friendlyが未使用ならユーザー名として返す。
// 使用済みまたは未指定の場合は空文字列を返し、失敗にはしない。
func (r *Resolver) candidateUsername(ctx context.Context, attrs model.Attributes) (string, error) {
	friendly, ok := attrs.Get(attribute.KeyFriendly)
	if !ok {
		return "", nil
	}
	friendly = r.sync.sanitizer.Sanitize(friendly)
	if friendly == "" {
		return "", nil
	}

	exists, err := r.repo.UsernameExists(ctx, friendly)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	if exists {
		slog.Info("requested username already in use, leaving username empty",
			slog.String("username", friendly),
		)
		return "", nil
	}
	return friendly, nil
}
