// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限区分を表す。作成時に1回だけ決定され、以後変更されない。
type Role string

const (
	RoleGuest   Role = "guest"
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// 成績の有効範囲。
const (
	MinGrade = 0
	MaxGrade = 4
)

// User は登録済みユーザーを表す。
// Usernameは外部IdPのloginから作成時に設定され、以後変更されない。
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Username  string    `db:"username" json:"username"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url"`
	GithubID  int64     `db:"github_id" json:"github_id"`
	Role      Role      `db:"role" json:"role"`
	Grade     int       `db:"grade" json:"grade"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsStudent は学生ロールかどうかを返す。
func (u User) IsStudent() bool { return u.Role == RoleStudent }

// IsTeacher は教員ロールかどうかを返す。
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }

// Profile はIdPから取得したユーザー情報を表す。永続化はされずUserに写像される。
type Profile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Session はログインセッションを表す。
// ExpiresAtがnilのセッションは明示的に削除されるまで有効。
type Session struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	Token     string     `db:"token"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Roster はIdPのloginをもとにロールを割り当てるための名簿。
// ユーザーリポジトリの生成時に注入する。
type Roster struct {
	Students map[string]struct{}
	Teachers map[string]struct{}
}

// NewRoster はlogin一覧からRosterを生成する。空白のみの要素は無視する。
func NewRoster(students, teachers []string) Roster {
	return Roster{
		Students: toSet(students),
		Teachers: toSet(teachers),
	}
}

// RoleFor はloginに対応するロールを返す。
// 教員の判定は学生の後に行うため、両方に含まれるloginは教員になる。
func (r Roster) RoleFor(login string) Role {
	role := RoleGuest
	if _, ok := r.Students[login]; ok {
		role = RoleStudent
	}
	if _, ok := r.Teachers[login]; ok {
		role = RoleTeacher
	}
	return role
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
