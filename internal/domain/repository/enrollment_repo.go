package repository

import (
	"github.com/yourusername/lms-api/internal/domain/entity"
)

// EnrollmentRepository определяет методы для проверки покупок курсов
type EnrollmentRepository interface {
	// HasPurchased проверяет наличие записи о покупке курса студентом
	HasPurchased(studentID, courseID uint) (bool, error)
	Create(enrollment *entity.Enrollment) error
}

// ProgressRepository определяет методы для работы с агрегатом прогресса курса
type ProgressRepository interface {
	// Get возвращает прогресс студента по курсу.
	// Отсутствие записи — это ErrNotFound, НЕ ошибка бизнес-логики:
	// вызывающие трактуют её как "ни одна лекция не просмотрена".
	Get(studentID, courseID uint) (*entity.CourseProgress, error)

	// Upsert создаёт или обновляет агрегат прогресса целиком
	Upsert(progress *entity.CourseProgress) error
}
