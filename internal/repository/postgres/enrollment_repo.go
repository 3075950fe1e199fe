package postgres

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/lms-api/internal/domain/entity"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// EnrollmentRepo реализует repository.EnrollmentRepository
type EnrollmentRepo struct {
	db *gorm.DB
}

// NewEnrollmentRepo создает новый репозиторий покупок курсов
func NewEnrollmentRepo(db *gorm.DB) *EnrollmentRepo {
	return &EnrollmentRepo{db: db}
}

// HasPurchased проверяет наличие записи о покупке курса студентом
func (r *EnrollmentRepo) HasPurchased(studentID, courseID uint) (bool, error) {
	var count int64
	err := r.db.Model(&entity.Enrollment{}).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create создает запись о покупке курса
func (r *EnrollmentRepo) Create(enrollment *entity.Enrollment) error {
	return r.db.Create(enrollment).Error
}

// ProgressRepo реализует repository.ProgressRepository
type ProgressRepo struct {
	db *gorm.DB
}

// NewProgressRepo создает новый репозиторий прогресса курсов
func NewProgressRepo(db *gorm.DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

// Get возвращает прогресс студента по курсу.
// Отсутствие записи возвращается как ErrNotFound и трактуется вызывающими
// как "ни одна лекция не просмотрена".
func (r *ProgressRepo) Get(studentID, courseID uint) (*entity.CourseProgress, error) {
	var progress entity.CourseProgress
	err := r.db.Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &progress, nil
}

// Upsert создаёт или обновляет агрегат прогресса целиком.
// Конфликт по (student_id, course_id) разрешается обновлением JSONB-полей.
func (r *ProgressRepo) Upsert(progress *entity.CourseProgress) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"lectures", "quiz_results", "completed", "updated_at",
		}),
	}).Create(progress).Error
}
