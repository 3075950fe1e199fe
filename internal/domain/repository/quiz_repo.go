package repository

import (
	"github.com/yourusername/lms-api/internal/domain/entity"
)

// QuizRepository определяет методы для работы с тестами
type QuizRepository interface {
	Create(quiz *entity.Quiz) error
	GetByID(id uint) (*entity.Quiz, error)
	// GetWithQuestions возвращает тест вместе с вопросами в порядке position
	GetWithQuestions(id uint) (*entity.Quiz, error)
	// GetActiveByCourse возвращает активные тесты курса (видимые студентам)
	GetActiveByCourse(courseID uint) ([]entity.Quiz, error)
	// GetByCourse возвращает все тесты курса, включая неактивные (для преподавателя)
	GetByCourse(courseID uint) ([]entity.Quiz, error)
	Update(quiz *entity.Quiz) error
	// SetActive точечно переключает видимость теста без full Save
	SetActive(quizID uint, active bool) error
	Delete(id uint) error
}

// QuestionRepository определяет методы для работы с вопросами
type QuestionRepository interface {
	CreateBatch(questions []entity.Question) error
	GetByQuizID(quizID uint) ([]entity.Question, error)
	Delete(id uint) error
}
