package middleware

import (
	"net/http"

	"github.com/hitoshi/gradebook/internal/model"
)

// MaxRequestBodySize は認証済みルートで受け付けるリクエストボディの上限。
const MaxRequestBodySize = 4 << 10

// NewBodyLimitMiddleware はリクエストボディをlimitバイトに制限するミドルウェアを返す。
// フォームを読むCSRFミドルウェアより前に配置する。
// Content-Lengthが上限を超える場合は本文を読まずに413を返す。
func NewBodyLimitMiddleware(limit int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				WriteErrorResponse(w, http.StatusRequestEntityTooLarge, &model.APIError{
					Code:     "REQUEST_TOO_LARGE",
					Message:  "リクエストが大きすぎます。",
					Category: "validation",
					Action:   "送信内容を減らして再度お試しください。",
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
