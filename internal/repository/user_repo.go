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

const userColumns = `users.id, users.name, users.username, users.avatar_url,
	users.github_id, users.role, users.grade, users.created_at`

// SQLUserRepo はStoreを使用したユーザーリポジトリ。
// ロールの割り当て方針は生成時に渡された名簿に従う。
type SQLUserRepo struct {
	store  *database.Store
	roster model.Roster
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(store *database.Store, roster model.Roster) *SQLUserRepo {
	return &SQLUserRepo{store: store, roster: roster}
}

// Create はプロフィールからユーザーを作成する。
// 重複チェックはusernameの一意制約に任せ、違反をmodel.ErrUserExistsに変換する。
func (r *SQLUserRepo) Create(ctx context.Context, profile model.Profile) (model.User, error) {
	_, err := r.store.Exec(ctx,
		`INSERT INTO users (name, username, avatar_url, github_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		profile.Name, profile.Login, profile.AvatarURL, profile.ID,
		string(r.roster.RoleFor(profile.Login)), now(),
	)
	if database.IsUniqueViolation(err) {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserExists, profile.Login)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	user, found, err := r.FindByUsername(ctx, profile.Login)
	if err != nil {
		return model.User{}, err
	}
	if !found {
		return model.User{}, fmt.Errorf("user vanished after insert: %s", profile.Login)
	}
	return user, nil
}

// FindOrCreate はINSERT ... ON CONFLICT DO NOTHINGの後に読み直すことで、
// 存在確認と作成の間の競合を一意制約に吸収させる。
func (r *SQLUserRepo) FindOrCreate(ctx context.Context, profile model.Profile) (model.User, bool, error) {
	result, err := r.store.Exec(ctx,
		`INSERT INTO users (name, username, avatar_url, github_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO NOTHING`,
		profile.Name, profile.Login, profile.AvatarURL, profile.ID,
		string(r.roster.RoleFor(profile.Login)), now(),
	)
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to insert user: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	user, found, err := r.FindByUsername(ctx, profile.Login)
	if err != nil {
		return model.User{}, false, err
	}
	if !found {
		return model.User{}, false, fmt.Errorf("user vanished after upsert: %s", profile.Login)
	}
	return user, inserted == 1, nil
}

// FindByUsername はusernameの完全一致でユーザーを取得する。
func (r *SQLUserRepo) FindByUsername(ctx context.Context, username string) (model.User, bool, error) {
	return r.findOne(ctx, "find user by username",
		`SELECT `+userColumns+` FROM users WHERE users.username = ?`,
		username,
	)
}

// FindByID は指定IDのユーザーを取得する。
func (r *SQLUserRepo) FindByID(ctx context.Context, id int64) (model.User, bool, error) {
	return r.findOne(ctx, "find user by ID",
		`SELECT `+userColumns+` FROM users WHERE users.id = ?`,
		id,
	)
}

// FindBySessionToken はsessionsとusersを結合し、トークンを所有するユーザーを取得する。
func (r *SQLUserRepo) FindBySessionToken(ctx context.Context, token string) (model.User, bool, error) {
	return r.findOne(ctx, "find user by session",
		`SELECT `+userColumns+` FROM users
		 INNER JOIN sessions ON sessions.user_id = users.id
		 WHERE sessions.token = ?
		   AND (sessions.expires_at IS NULL OR sessions.expires_at > ?)`,
		token, now(),
	)
}

// UpdateGrade は主キーで成績を無条件に更新する。
func (r *SQLUserRepo) UpdateGrade(ctx context.Context, userID int64, grade int) error {
	if _, err := r.store.Exec(ctx,
		`UPDATE users SET grade = ? WHERE id = ?`,
		grade, userID,
	); err != nil {
		return fmt.Errorf("failed to update grade: %w", err)
	}
	return nil
}

// List は全ユーザーを作成順に返す。
func (r *SQLUserRepo) List(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := r.store.Select(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY users.id`,
	); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *SQLUserRepo) findOne(ctx context.Context, op, query string, args ...any) (model.User, bool, error) {
	var user model.User
	err := r.store.Get(ctx, &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return user, true, nil
}

// now は永続化に使う現在時刻を返す。
// SQLiteでは文字列として比較されるため、UTCかつ秒単位に揃える。
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
