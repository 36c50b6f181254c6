package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/gradebook/internal/database"
	"github.com/hitoshi/gradebook/internal/model"
)

// SQLSessionRepo はStoreを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	store *database.Store
}

// NewSQLSessionRepo はSQLSessionRepoを生成する。
func NewSQLSessionRepo(store *database.Store) *SQLSessionRepo {
	return &SQLSessionRepo{store: store}
}

// Create はセッションを作成し、トークンで読み直して永続化を確認する。
// CreatedAtがゼロ値の場合は現在時刻を使用する。
func (r *SQLSessionRepo) Create(ctx context.Context, session model.Session) (string, bool, error) {
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	var expiresAt *time.Time
	if session.ExpiresAt != nil {
		t := session.ExpiresAt.UTC().Truncate(time.Second)
		expiresAt = &t
	}

	if _, err := r.store.Exec(ctx,
		`INSERT INTO sessions (user_id, token, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.UserID, session.Token, createdAt.UTC().Truncate(time.Second), expiresAt,
	); err != nil {
		return "", false, fmt.Errorf("failed to create session: %w", err)
	}

	return r.FindByToken(ctx, session.Token)
}

// FindByToken はトークンが有効なセッションとして存在すればトークンを返す。
// 期限が設定されていないセッションは常に有効。
func (r *SQLSessionRepo) FindByToken(ctx context.Context, token string) (string, bool, error) {
	var found string
	err := r.store.Get(ctx, &found,
		`SELECT token FROM sessions
		 WHERE token = ? AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		token, now(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find session: %w", err)
	}
	return found, true, nil
}

// Delete はトークンに一致するセッションをすべて削除する。
func (r *SQLSessionRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.store.Exec(ctx,
		`DELETE FROM sessions WHERE token = ?`,
		token,
	); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除する。期限のないセッションは対象外。
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.store.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		at.UTC().Truncate(time.Second),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLSessionRepo)(nil)
