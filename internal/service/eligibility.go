package service

import (
	"errors"
	"fmt"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// EligibilityChecker решает, допущен ли студент к тесту.
// Чистое чтение + решение, без побочных эффектов; проверки идут по порядку
// и обрываются на первой неудаче.
type EligibilityChecker struct {
	enrollmentRepo repository.EnrollmentRepository
	progressRepo   repository.ProgressRepository
	attemptRepo    repository.AttemptRepository
}

// NewEligibilityChecker создает новый гейт допуска
func NewEligibilityChecker(
	enrollmentRepo repository.EnrollmentRepository,
	progressRepo repository.ProgressRepository,
	attemptRepo repository.AttemptRepository,
) *EligibilityChecker {
	return &EligibilityChecker{
		enrollmentRepo: enrollmentRepo,
		progressRepo:   progressRepo,
		attemptRepo:    attemptRepo,
	}
}

// CheckQuizAccess проверяет допуск студента к просмотру теста:
// покупка курса, затем пререквизит урочного теста.
func (c *EligibilityChecker) CheckQuizAccess(studentID uint, quiz *entity.Quiz) error {
	purchased, err := c.enrollmentRepo.HasPurchased(studentID, quiz.CourseID)
	if err != nil {
		return fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !purchased {
		return ErrNotPurchased
	}

	if quiz.IsLessonQuiz() {
		viewed, err := c.viewedLectureIDs(studentID, quiz.CourseID)
		if err != nil {
			return err
		}
		if !containsID(viewed, *quiz.LectureID) {
			return ErrPrerequisitesNotMet
		}
	}

	return nil
}

// CheckCanStart проверяет допуск к старту новой попытки:
// доступ к тесту + лимит попыток.
func (c *EligibilityChecker) CheckCanStart(studentID uint, quiz *entity.Quiz) error {
	if err := c.CheckQuizAccess(studentID, quiz); err != nil {
		return err
	}

	count, err := c.attemptRepo.CountByStudentAndQuiz(studentID, quiz.ID)
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}
	if count >= int64(quiz.AttemptsAllowed) {
		return ErrAttemptLimitReached
	}

	return nil
}

// viewedLectureIDs возвращает просмотренные лекции студента по курсу.
// Отсутствие записи прогресса — не ошибка: ни одна лекция не просмотрена.
func (c *EligibilityChecker) viewedLectureIDs(studentID, courseID uint) ([]uint, error) {
	progress, err := c.progressRepo.Get(studentID, courseID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get course progress: %w", err)
	}
	return progress.ViewedLectureIDs(), nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
