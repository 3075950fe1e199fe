package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// AttemptRepo реализует repository.AttemptRepository
type AttemptRepo struct {
	db *gorm.DB
}

// NewAttemptRepo создает новый репозиторий попыток
func NewAttemptRepo(db *gorm.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Create сохраняет новую попытку.
// Уникальный индекс (quiz_id, student_id, attempt_number) — авторитетная
// защита от гонки двух одновременных стартов: проигравший получает
// ErrDuplicateAttempt и должен перечитать список попыток.
func (r *AttemptRepo) Create(attempt *entity.QuizAttempt) error {
	if err := r.db.Create(attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt #%d for quiz #%d: %w",
				attempt.AttemptNumber, attempt.QuizID, repository.ErrDuplicateAttempt)
		}
		return err
	}
	return nil
}

// GetByID возвращает попытку по ID
func (r *AttemptRepo) GetByID(id uint) (*entity.QuizAttempt, error) {
	var attempt entity.QuizAttempt
	err := r.db.First(&attempt, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// CountByStudentAndQuiz возвращает количество попыток студента по тесту
func (r *AttemptRepo) CountByStudentAndQuiz(studentID, quizID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.QuizAttempt{}).
		Where("student_id = ? AND quiz_id = ?", studentID, quizID).
		Count(&count).Error
	return count, err
}

// GetByStudentAndQuiz возвращает попытки студента по тесту в порядке attempt_number
func (r *AttemptRepo) GetByStudentAndQuiz(studentID, quizID uint) ([]entity.QuizAttempt, error) {
	var attempts []entity.QuizAttempt
	err := r.db.Where("student_id = ? AND quiz_id = ?", studentID, quizID).
		Order("attempt_number").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetByQuiz возвращает все попытки по тесту
func (r *AttemptRepo) GetByQuiz(quizID uint) ([]entity.QuizAttempt, error) {
	var attempts []entity.QuizAttempt
	err := r.db.Where("quiz_id = ?", quizID).
		Order("student_id, attempt_number").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// CountByQuiz возвращает общее количество попыток по тесту
func (r *AttemptRepo) CountByQuiz(quizID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.QuizAttempt{}).
		Where("quiz_id = ?", quizID).
		Count(&count).Error
	return count, err
}

// ClaimForProcessing атомарно переводит попытку in_progress → processing.
// Условие status = 'in_progress' гарантирует ровно одного победителя
// среди конкурирующих сдач: completed и уже захваченные processing
// попытки не проходят условие, и RowsAffected == 0.
func (r *AttemptRepo) ClaimForProcessing(attemptID uint) (bool, error) {
	result := r.db.Model(&entity.QuizAttempt{}).
		Where("id = ? AND status = ?", attemptID, entity.AttemptStatusInProgress).
		Update("status", entity.AttemptStatusProcessing)

	if result.Error != nil {
		return false, fmt.Errorf("claim attempt #%d failed: %w", attemptID, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ReleaseProcessing возвращает попытку processing → in_progress
func (r *AttemptRepo) ReleaseProcessing(attemptID uint) error {
	return r.db.Model(&entity.QuizAttempt{}).
		Where("id = ? AND status = ?", attemptID, entity.AttemptStatusProcessing).
		Update("status", entity.AttemptStatusInProgress).
		Error
}

// Finalize записывает результат и переводит попытку в completed.
// Единственная финализирующая запись; после неё статус не меняется.
func (r *AttemptRepo) Finalize(attemptID uint, fin repository.AttemptFinalization) error {
	return r.db.Model(&entity.QuizAttempt{}).
		Where("id = ?", attemptID).
		Updates(map[string]interface{}{
			"answers":        fin.Answers,
			"score":          fin.Score,
			"points_earned":  fin.PointsEarned,
			"passed":         fin.Passed,
			"completed_at":   fin.CompletedAt,
			"time_spent_sec": fin.TimeSpentSec,
			"status":         entity.AttemptStatusCompleted,
		}).Error
}

// UpdateReviewedAnswers сохраняет ответы и итог после ручной проверки.
// Условие updated_at = expectedUpdatedAt отсекает конкурирующую проверку,
// успевшую записаться между чтением и этим UPDATE: проигравший получает
// RowsAffected == 0 и должен перечитать попытку.
func (r *AttemptRepo) UpdateReviewedAnswers(attemptID uint, answers entity.AttemptAnswers, score, pointsEarned int, passed bool, expectedUpdatedAt time.Time) (bool, error) {
	result := r.db.Model(&entity.QuizAttempt{}).
		Where("id = ? AND updated_at = ?", attemptID, expectedUpdatedAt).
		Updates(map[string]interface{}{
			"answers":       answers,
			"score":         score,
			"points_earned": pointsEarned,
			"passed":        passed,
		})
	if result.Error != nil {
		return false, fmt.Errorf("update reviewed attempt #%d failed: %w", attemptID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
