// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer は外部プロバイダから受け取ったプロフィールを
// 永続化前に無害化する。表示名やログイン名に含まれるマークアップは
// bluemondayのStrictPolicyで全て除去し、アバターURLはValidateURLで検証する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/gradebook/internal/model"
)

// maxNameLength は表示名として保存する最大文字数（rune単位）。
const maxNameLength = 255

// ProfileSanitizer はプロフィールのサニタイズ機能のインターフェースを定義する。
type ProfileSanitizer interface {
	// Sanitize はテキスト項目からタグを除去し、不正なアバターURLを空にしたプロフィールを返す。
	// 表示名が空になった場合はログイン名で補完する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(profile model.Profile) model.Profile
}

// profileSanitizer はProfileSanitizerの実装。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
// 全てのタグを除去するStrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

func (s *profileSanitizer) Sanitize(profile model.Profile) model.Profile {
	out := profile
	out.Login = s.text(profile.Login)
	out.Name = truncateRunes(s.text(profile.Name), maxNameLength)
	if out.Name == "" {
		out.Name = out.Login
	}

	out.AvatarURL = strings.TrimSpace(profile.AvatarURL)
	if out.AvatarURL != "" && ValidateURL(out.AvatarURL) != nil {
		out.AvatarURL = ""
	}
	return out
}

// text はタグを除去したプレーンテキストを返す。
// StrictPolicyは文字参照にエスケープするため、保存前に元の文字へ戻す。
func (s *profileSanitizer) text(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
