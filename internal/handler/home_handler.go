package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gradebook/internal/grade"
	"github.com/hitoshi/gradebook/internal/middleware"
	"github.com/hitoshi/gradebook/internal/model"
)

// GradeServiceInterface はホームハンドラーが必要とするサービスインターフェース。
type GradeServiceInterface interface {
	Home(ctx context.Context, user model.User) (grade.HomeView, error)
	UpdateOwnGrade(ctx context.Context, user model.User, g int) (model.User, error)
	UpdateStudentGrade(ctx context.Context, teacher model.User, studentID int64, g int) (model.User, error)
}

// HomeHandler はホーム画面と成績更新のHTTPハンドラー。
type HomeHandler struct {
	service GradeServiceInterface
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(service GradeServiceInterface) *HomeHandler {
	return &HomeHandler{service: service}
}

type gradeRequest struct {
	Grade *int `json:"grade"`
}

// Home はログインユーザーの情報を返す。教師には全ユーザー一覧も含める。
// GET /home
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	view, err := h.service.Home(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// UpdateOwnGrade は学生自身の成績を更新する。
// POST /home
func (h *HomeHandler) UpdateOwnGrade(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	g, apiErr := readGrade(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	updated, err := h.service.UpdateOwnGrade(r.Context(), user, g)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grade.HomeView{User: updated})
}

// UpdateStudentGrade は教師が学生の成績を更新する。
// POST /api/users/{id}/grade
func (h *HomeHandler) UpdateStudentGrade(w http.ResponseWriter, r *http.Request) {
	teacher, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	studentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || studentID <= 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	g, apiErr := readGrade(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	updated, err := h.service.UpdateStudentGrade(r.Context(), teacher, studentID, g)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// readGrade はJSONボディまたはフォームからgradeを読み取る。
// 範囲の検証はサービス層で行う。
func readGrade(w http.ResponseWriter, r *http.Request) (int, *model.APIError) {
	r.Body = http.MaxBytesReader(w, r.Body, middleware.MaxRequestBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req gradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return 0, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "リクエストボディが不正です。",
				Category: "validation",
				Action:   "正しいJSON形式でリクエストしてください。",
			}
		}
		if req.Grade == nil {
			return 0, model.NewMissingGradeError()
		}
		return *req.Grade, nil
	}

	raw := r.PostFormValue("grade")
	if raw == "" {
		return 0, model.NewMissingGradeError()
	}
	g, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.APIError{
			Code:     model.ErrCodeInvalidGrade,
			Message:  "成績は整数で指定してください。",
			Category: "validation",
			Action:   "0から4の整数を指定してください。",
		}
	}
	return g, nil
}
