// Package repository はデータ永続化のインターフェースと実装を提供する。
//
// 参照系の操作は「見つからない」をエラーとして扱わず、
// (値, found, error) の3値で返す。errorはストア側の障害のみを表す。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/gradebook/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はプロフィールからユーザーを作成する。ロールは名簿から決定する。
	// 同じusernameのユーザーが既に存在する場合はmodel.ErrUserExistsを返す。
	Create(ctx context.Context, profile model.Profile) (model.User, error)

	// FindOrCreate はusernameの一意制約を使ってユーザーを原子的に取得または作成する。
	// 競合した場合は既存のユーザーを返す。createdは今回作成したかどうか。
	FindOrCreate(ctx context.Context, profile model.Profile) (user model.User, created bool, err error)

	// FindByUsername はusernameの完全一致でユーザーを取得する。
	FindByUsername(ctx context.Context, username string) (model.User, bool, error)

	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id int64) (model.User, bool, error)

	// FindBySessionToken はセッショントークンを所有するユーザーを取得する。
	// 未知のトークンや期限切れのセッションはfound=falseになる。
	FindBySessionToken(ctx context.Context, token string) (model.User, bool, error)

	// UpdateGrade は成績を無条件に更新する。範囲の検証は呼び出し側が行う。
	UpdateGrade(ctx context.Context, userID int64, grade int) error

	// List は全ユーザーを作成順に返す。
	List(ctx context.Context) ([]model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成し、トークンで読み直して永続化を確認する。
	// 読み直しに失敗した場合はfound=falseを返す。
	Create(ctx context.Context, session model.Session) (token string, found bool, err error)

	// FindByToken はトークンが有効なセッションとして存在するかを確認し、存在すればトークンを返す。
	FindByToken(ctx context.Context, token string) (string, bool, error)

	// Delete はトークンに一致するセッションをすべて削除する。該当がなくてもエラーにしない。
	Delete(ctx context.Context, token string) error

	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
