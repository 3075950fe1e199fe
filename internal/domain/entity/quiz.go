package entity

import (
	"time"
)

// Quiz представляет тест курса.
// LectureID задан только у "урочных" тестов: доступ к ним открывается после
// просмотра лекции. Тесты без LectureID — финальные, гейтятся только покупкой курса.
type Quiz struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CourseID        uint       `gorm:"not null;index" json:"course_id"`
	LectureID       *uint      `gorm:"index" json:"lecture_id,omitempty"`
	InstructorID    uint       `gorm:"not null;index" json:"instructor_id"`
	Title           string     `gorm:"size:100;not null" json:"title"`
	Description     string     `gorm:"size:500;not null;default:''" json:"description"`
	PassingScore    int        `gorm:"not null;default:70" json:"passing_score"`
	TimeLimitMin    int        `gorm:"not null;default:0" json:"time_limit"` // 0 = без ограничения
	AttemptsAllowed int        `gorm:"not null;default:1" json:"attempts_allowed"`
	IsActive        bool       `gorm:"not null;default:true;index" json:"is_active"`
	Questions       []Question `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Quiz) TableName() string {
	return "quizzes"
}

// IsLessonQuiz проверяет, привязан ли тест к лекции
func (q *Quiz) IsLessonQuiz() bool {
	return q.LectureID != nil
}

// HasTimeLimit проверяет, ограничен ли тест по времени
func (q *Quiz) HasTimeLimit() bool {
	return q.TimeLimitMin > 0
}

// TimeLimitSeconds возвращает лимит времени в секундах (0 = без ограничения)
func (q *Quiz) TimeLimitSeconds() int {
	return q.TimeLimitMin * 60
}

// TotalPoints возвращает сумму баллов всех вопросов теста.
// Пропущенные студентом вопросы всё равно входят в знаменатель оценки.
func (q *Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}
