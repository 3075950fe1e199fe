package entity

import (
	"time"
)

// Enrollment представляет запись о покупке курса студентом.
// Наличие записи — условие допуска ко всем тестам курса.
type Enrollment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StudentID   uint      `gorm:"not null;index;uniqueIndex:idx_enrollment_unique" json:"student_id"`
	CourseID    uint      `gorm:"not null;index;uniqueIndex:idx_enrollment_unique" json:"course_id"`
	PurchasedAt time.Time `gorm:"not null" json:"purchased_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Enrollment) TableName() string {
	return "enrollments"
}
