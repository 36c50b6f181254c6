// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrUserExists は同じusernameのユーザーが既に存在する場合に返される。
var ErrUserExists = errors.New("user already exists")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, grade, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidGrade       = "INVALID_GRADE"
	ErrCodeMissingGrade       = "MISSING_GRADE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeNotAStudent        = "NOT_A_STUDENT"
	ErrCodeProfileUnavailable = "PROFILE_UNAVAILABLE"
	ErrCodeSessionNotCreated  = "SESSION_NOT_CREATED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作は許可されていません（ロール: %s）。", role),
		Category: "auth",
		Action:   "権限を持つアカウントでログインしてください。",
	}
}

// NewInvalidGradeError は範囲外の成績が指定された場合のエラーを生成する。
func NewInvalidGradeError(grade int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGrade,
		Message:  fmt.Sprintf("無効な成績です: %d", grade),
		Category: "validation",
		Action:   fmt.Sprintf("成績は%dから%dの整数で指定してください。", MinGrade, MaxGrade),
	}
}

// NewMissingGradeError は成績が指定されていない場合のエラーを生成する。
func NewMissingGradeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingGrade,
		Message:  "成績が指定されていません。",
		Category: "validation",
		Action:   "gradeフィールドに成績を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotAStudentError は成績の更新対象が学生でない場合のエラーを生成する。
func NewNotAStudentError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAStudent,
		Message:  fmt.Sprintf("学生ではないユーザーの成績は更新できません: %s", username),
		Category: "grade",
		Action:   "学生ロールのユーザーを指定してください。",
	}
}

// NewProfileUnavailableError はIdPからプロフィールを取得できなかった場合のエラーを生成する。
func NewProfileUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileUnavailable,
		Message:  "プロフィールを取得できませんでした。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewSessionNotCreatedError はセッションの作成を確認できなかった場合のエラーを生成する。
func NewSessionNotCreatedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotCreated,
		Message:  "セッションを作成できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}
