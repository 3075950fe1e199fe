package repository

import (
	"time"

	"github.com/yourusername/lms-api/internal/domain/entity"
)

// AttemptFinalization содержит поля единственной финализирующей записи попытки.
// После неё статус попытки больше не меняется (кроме ручной проверки ответов).
type AttemptFinalization struct {
	Answers      entity.AttemptAnswers
	Score        int
	PointsEarned int
	Passed       bool
	CompletedAt  time.Time
	TimeSpentSec int
}

// AttemptRepository определяет методы для работы с попытками прохождения тестов
type AttemptRepository interface {
	// Create сохраняет новую попытку. При нарушении уникальности
	// (quiz_id, student_id, attempt_number) возвращает ErrDuplicateAttempt:
	// конкурирующий старт уже занял этот номер.
	Create(attempt *entity.QuizAttempt) error

	GetByID(id uint) (*entity.QuizAttempt, error)

	// CountByStudentAndQuiz возвращает количество попыток студента по тесту
	CountByStudentAndQuiz(studentID, quizID uint) (int64, error)

	// GetByStudentAndQuiz возвращает попытки студента по тесту
	// в порядке attempt_number
	GetByStudentAndQuiz(studentID, quizID uint) ([]entity.QuizAttempt, error)

	// GetByQuiz возвращает все попытки по тесту (для преподавателя)
	GetByQuiz(quizID uint) ([]entity.QuizAttempt, error)

	// CountByQuiz возвращает общее количество попыток по тесту
	CountByQuiz(quizID uint) (int64, error)

	// ClaimForProcessing атомарно переводит попытку in_progress → processing.
	// Единственная точка сериализации конкурирующих сдач: возвращает true,
	// только если условный UPDATE затронул ровно одну строку. false означает,
	// что попытка уже завершена или захвачена другой сдачей.
	ClaimForProcessing(attemptID uint) (bool, error)

	// ReleaseProcessing возвращает попытку processing → in_progress
	// (выход по превышению лимита времени без финализации)
	ReleaseProcessing(attemptID uint) error

	// Finalize записывает результат и переводит попытку в completed
	Finalize(attemptID uint, fin AttemptFinalization) error

	// UpdateReviewedAnswers сохраняет ответы и итог после ручной проверки
	// завершённой попытки (ретроактивно меняет score/passed). Запись условна:
	// проходит, только если updated_at попытки равен expectedUpdatedAt
	// (optimistic-защита от конкурирующей проверки); false — попытка
	// изменилась с момента чтения
	UpdateReviewedAnswers(attemptID uint, answers entity.AttemptAnswers, score, pointsEarned int, passed bool, expectedUpdatedAt time.Time) (bool, error)
}
