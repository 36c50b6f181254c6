// Package auth はGitHub OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gradebook/internal/metrics"
	"github.com/hitoshi/gradebook/internal/model"
	"github.com/hitoshi/gradebook/internal/repository"
	"github.com/hitoshi/gradebook/internal/security"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (model.Profile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）。0以下の場合は期限なし
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.ProfileSanitizer
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。collectorはnilでもよい。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sanitizer security.ProfileSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		metrics:     metrics.OrNop(collector),
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいセッショントークンを返す。
// 未登録のusernameであればユーザーを作成する。作成と既存判定は一意制約の上で原子的に行う。
// セッショントークンは認可コードとは独立に生成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, error) {
	// 1. 認可コードをトークンに交換し、プロフィールを取得
	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		slog.Warn("failed to get profile from provider", slog.String("error", err.Error()))
		return "", model.NewProfileUnavailableError()
	}
	profile = s.sanitizer.Sanitize(profile)

	// 2. ユーザーを取得または作成
	user, created, err := s.userRepo.FindOrCreate(ctx, profile)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return "", fmt.Errorf("failed to find or create user: %w", err)
	}
	if created {
		s.metrics.RecordUserCreated(string(user.Role))
		slog.Info("new user created",
			slog.Int64("user_id", user.ID),
			slog.String("username", user.Username),
			slog.String("role", string(user.Role)),
		)
	}

	// 3. セッションを発行
	token, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return "", err
	}

	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return token, nil
}

// Logout はセッションを破棄する。存在しないトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session token is required")
	}

	if err := s.sessionRepo.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordSessionsRevoked(1)
	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッショントークンから現在のユーザーを取得する。
// トークンが空・未知・期限切れの場合はfound=falseを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (model.User, bool, error) {
	if token == "" {
		return model.User{}, false, nil
	}

	if _, found, err := s.sessionRepo.FindByToken(ctx, token); err != nil {
		return model.User{}, false, fmt.Errorf("failed to find session: %w", err)
	} else if !found {
		return model.User{}, false, nil
	}

	user, found, err := s.userRepo.FindBySessionToken(ctx, token)
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to find user: %w", err)
	}
	return user, found, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := model.Session{
		UserID:    userID,
		Token:     token,
		CreatedAt: now,
	}
	if s.config.SessionMaxAge > 0 {
		expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
		session.ExpiresAt = &expiresAt
	}

	saved, found, err := s.sessionRepo.Create(ctx, session)
	if err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	if !found {
		return "", model.NewSessionNotCreatedError()
	}
	return saved, nil
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
