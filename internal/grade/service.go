// Package grade は成績の参照と更新のドメインロジックを提供する。
package grade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/gradebook/internal/metrics"
	"github.com/hitoshi/gradebook/internal/model"
	"github.com/hitoshi/gradebook/internal/repository"
)

var validate = validator.New()

// gradeInput は成績の値域を検証タグで表す。
type gradeInput struct {
	Grade int `validate:"min=0,max=4"`
}

// ValidateGrade は成績が0から4の範囲にあるかを検証する。
// 範囲外の場合はINVALID_GRADEのAPIErrorを返す。
func ValidateGrade(grade int) error {
	if err := validate.Struct(gradeInput{Grade: grade}); err != nil {
		return model.NewInvalidGradeError(grade)
	}
	return nil
}

// HomeView はホーム画面に表示する内容。
// Usersは教員の場合のみ全ユーザーの一覧が入る。
type HomeView struct {
	User  model.User   `json:"user"`
	Users []model.User `json:"users,omitempty"`
}

// Service は成績管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	metrics  metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。collectorはnilでもよい。
func NewService(userRepo repository.UserRepository, collector metrics.MetricsCollector) *Service {
	return &Service{
		userRepo: userRepo,
		metrics:  metrics.OrNop(collector),
	}
}

// Home はログイン中のユーザーのホーム画面を組み立てる。
func (s *Service) Home(ctx context.Context, user model.User) (HomeView, error) {
	view := HomeView{User: user}
	if !user.IsTeacher() {
		return view, nil
	}

	users, err := s.userRepo.List(ctx)
	if err != nil {
		return HomeView{}, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	view.Users = users
	return view, nil
}

// UpdateOwnGrade は学生が自分の成績を更新する。
// 値の検証はリポジトリの呼び出しより先に行う。
func (s *Service) UpdateOwnGrade(ctx context.Context, user model.User, grade int) (model.User, error) {
	if err := ValidateGrade(grade); err != nil {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, err
	}
	if !user.IsStudent() {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, model.NewForbiddenError(user.Role)
	}

	return s.update(ctx, user, user.ID, grade)
}

// UpdateStudentGrade は教員が指定した学生の成績を更新する。
func (s *Service) UpdateStudentGrade(ctx context.Context, teacher model.User, studentID int64, grade int) (model.User, error) {
	if err := ValidateGrade(grade); err != nil {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, err
	}
	if !teacher.IsTeacher() {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, model.NewForbiddenError(teacher.Role)
	}

	student, found, err := s.userRepo.FindByID(ctx, studentID)
	if err != nil {
		return model.User{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if !found {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, model.NewUserNotFoundError()
	}
	if !student.IsStudent() {
		s.metrics.RecordGradeUpdate(metrics.OutcomeFailure)
		return model.User{}, model.NewNotAStudentError(student.Username)
	}

	return s.update(ctx, teacher, student.ID, grade)
}

func (s *Service) update(ctx context.Context, actor model.User, targetID int64, grade int) (model.User, error) {
	if err := s.userRepo.UpdateGrade(ctx, targetID, grade); err != nil {
		return model.User{}, fmt.Errorf("成績の更新に失敗しました: %w", err)
	}

	updated, found, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return model.User{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if !found {
		return model.User{}, model.NewUserNotFoundError()
	}

	s.metrics.RecordGradeUpdate(metrics.OutcomeSuccess)
	slog.Info("grade updated",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("user_id", targetID),
		slog.Int("grade", grade),
	)
	return updated, nil
}
