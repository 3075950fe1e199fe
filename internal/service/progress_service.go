package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// ProgressSink получает результаты тестов для агрегата прогресса курса.
// Вызов best-effort: ядро попыток логирует и проглатывает его ошибку,
// завершение попытки никогда не откатывается из-за сбоя синка.
type ProgressSink interface {
	ReportQuizResult(studentID, courseID, quizID uint, score int, passed bool) error
}

// ProgressService обслуживает агрегат прогресса курса и реализует ProgressSink
type ProgressService struct {
	progressRepo repository.ProgressRepository
}

// NewProgressService создает новый сервис прогресса курсов
func NewProgressService(progressRepo repository.ProgressRepository) *ProgressService {
	return &ProgressService{progressRepo: progressRepo}
}

// ReportQuizResult фиксирует результат теста в агрегате прогресса.
// Повторная сдача того же теста заменяет предыдущую запись.
func (s *ProgressService) ReportQuizResult(studentID, courseID, quizID uint, score int, passed bool) error {
	progress, err := s.getOrCreate(studentID, courseID)
	if err != nil {
		return err
	}

	progress.UpsertQuizResult(entity.QuizResultEntry{
		QuizID:      quizID,
		Score:       score,
		Passed:      passed,
		CompletedAt: time.Now(),
	})

	if err := s.progressRepo.Upsert(progress); err != nil {
		return fmt.Errorf("failed to save quiz result to course progress: %w", err)
	}

	log.Printf("[ProgressService] Результат теста #%d записан в прогресс курса #%d студента #%d (score=%d, passed=%t)",
		quizID, courseID, studentID, score, passed)
	return nil
}

// MarkLectureViewed помечает лекцию курса просмотренной (идемпотентно).
// Открывает студенту урочные тесты, привязанные к этой лекции.
func (s *ProgressService) MarkLectureViewed(studentID, courseID, lectureID uint) error {
	progress, err := s.getOrCreate(studentID, courseID)
	if err != nil {
		return err
	}

	progress.MarkLectureViewed(lectureID, time.Now())

	if err := s.progressRepo.Upsert(progress); err != nil {
		return fmt.Errorf("failed to save lecture progress: %w", err)
	}
	return nil
}

// GetProgress возвращает агрегат прогресса студента по курсу
// (пустой агрегат, если записи ещё нет)
func (s *ProgressService) GetProgress(studentID, courseID uint) (*entity.CourseProgress, error) {
	return s.getOrCreate(studentID, courseID)
}

// getOrCreate возвращает существующий агрегат или новый пустой
func (s *ProgressService) getOrCreate(studentID, courseID uint) (*entity.CourseProgress, error) {
	progress, err := s.progressRepo.Get(studentID, courseID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &entity.CourseProgress{
				StudentID:   studentID,
				CourseID:    courseID,
				Lectures:    entity.LecturesProgress{},
				QuizResults: entity.QuizResultEntries{},
			}, nil
		}
		return nil, fmt.Errorf("failed to get course progress: %w", err)
	}
	return progress, nil
}
