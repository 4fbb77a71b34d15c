// Package auth はOpenIDログインフローの制御とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prdatur/soopfw-openid/internal/model"
	"github.com/prdatur/soopfw-openid/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れであることを表す。
var ErrSessionNotFound = errors.New("session not found or expired")

// ErrAccountNotFound はセッションに紐づくアカウントが存在しないことを表す。
var ErrAccountNotFound = errors.New("account not found")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はセッションの発行・破棄と現在のアカウントの取得を提供する。
type Service struct {
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// ValidateLogin は解決済みのアカウントでログインを確定し、セッションを発行する。
func (s *Service) ValidateLogin(ctx context.Context, account *model.Account) (*model.Session, error) {
	if account == nil || account.ID == "" {
		return nil, fmt.Errorf("account is required")
	}

	session, err := s.createSession(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("account logged in",
		slog.String("account_id", account.ID),
		slog.String("account_type", string(account.AccountType)),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("account logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentAccount はセッションから現在のアカウントを取得する。
func (s *Service) GetCurrentAccount(ctx context.Context, sessionID string) (*model.Account, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	account, err := s.accountRepo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	return account, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, accountID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		AccountID: accountID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
