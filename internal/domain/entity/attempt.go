package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Константы статусов попытки
const (
	AttemptStatusInProgress = "in_progress"
	AttemptStatusProcessing = "processing"
	AttemptStatusCompleted  = "completed"
)

// AttemptAnswer представляет один ответ студента внутри попытки.
// IsCorrect равен nil для ответов, ожидающих ручной проверки.
type AttemptAnswer struct {
	QuestionID   uint   `json:"question_id"`
	Answer       string `json:"answer"`
	IsCorrect    *bool  `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
	NeedsReview  bool   `json:"needs_review"`
}

// AttemptAnswers - пользовательский тип для хранения ответов попытки в JSONB
type AttemptAnswers []AttemptAnswer

// Scan реализует интерфейс sql.Scanner для AttemptAnswers
func (a *AttemptAnswers) Scan(value interface{}) error {
	if value == nil {
		*a = AttemptAnswers{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*a = AttemptAnswers{}
		return nil
	}

	return json.Unmarshal(bytes, a)
}

// Value реализует интерфейс driver.Valuer для AttemptAnswers
func (a AttemptAnswers) Value() (driver.Value, error) {
	if a == nil || len(a) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// QuizAttempt представляет одну попытку прохождения теста студентом.
// Запись никогда не удаляется: это постоянный журнал попытки.
// Уникальный индекс (quiz_id, student_id, attempt_number) — авторитетная
// защита от гонки при одновременном старте двух попыток.
type QuizAttempt struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	QuizID        uint           `gorm:"not null;index;uniqueIndex:idx_attempt_unique" json:"quiz_id"`
	StudentID     uint           `gorm:"not null;index;uniqueIndex:idx_attempt_unique" json:"student_id"`
	CourseID      uint           `gorm:"not null;index" json:"course_id"`
	AttemptNumber int            `gorm:"not null;uniqueIndex:idx_attempt_unique" json:"attempt_number"`
	Status        string         `gorm:"size:20;not null;default:'in_progress';index" json:"status"`
	Answers       AttemptAnswers `gorm:"type:jsonb;not null" json:"answers"`
	Score         int            `gorm:"not null;default:0" json:"score"`
	PointsEarned  int            `gorm:"not null;default:0" json:"points_earned"`
	TotalPoints   int            `gorm:"not null;default:0" json:"total_points"`
	Passed        bool           `gorm:"not null;default:false" json:"passed"`
	StartedAt     time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	TimeSpentSec  int            `gorm:"not null;default:0" json:"time_spent"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

// IsCompleted проверяет, завершена ли попытка
func (a *QuizAttempt) IsCompleted() bool {
	return a.Status == AttemptStatusCompleted
}

// IsOwnedBy проверяет принадлежность попытки паре (студент, тест).
// Защита от подстановки ответов в чужую попытку.
func (a *QuizAttempt) IsOwnedBy(studentID, quizID uint) bool {
	return a.StudentID == studentID && a.QuizID == quizID
}

// HasUnreviewedAnswers проверяет, есть ли в попытке ответы,
// ожидающие ручной проверки
func (a *QuizAttempt) HasUnreviewedAnswers() bool {
	for _, ans := range a.Answers {
		if ans.NeedsReview && ans.IsCorrect == nil {
			return true
		}
	}
	return false
}
