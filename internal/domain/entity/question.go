package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Типы вопросов
const (
	QuestionTypeMultipleChoice = "multiple-choice"
	QuestionTypeTrueFalse      = "true-false"
	QuestionTypeShortAnswer    = "short-answer"
	QuestionTypeEssay          = "essay"
	QuestionTypeBroadText      = "broad-text"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	// Обработка пустого массива байтов
	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
// Используется GORM для записи StringArray в JSONB в базе
func (o StringArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil // Возвращаем пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Question представляет вопрос теста.
// Для вопросов с вариантами CorrectAnswer нормализован к одному из Options
// (строковое значение варианта, а не индекс).
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	QuizID        uint        `gorm:"not null;index" json:"quiz_id"`
	Type          string      `gorm:"size:20;not null" json:"type"`
	Prompt        string      `gorm:"size:1000;not null" json:"prompt"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectAnswer string      `gorm:"size:1000;not null;default:''" json:"-"` // Скрыто от клиента
	Points        int         `gorm:"not null;default:1" json:"points"`
	Position      int         `gorm:"not null;default:0" json:"position"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsChoiceType проверяет, является ли вопрос вопросом с вариантами ответа
func (q *Question) IsChoiceType() bool {
	return q.Type == QuestionTypeMultipleChoice || q.Type == QuestionTypeTrueFalse
}

// IsFreeTextType проверяет, является ли вопрос вопросом со свободным ответом
func (q *Question) IsFreeTextType() bool {
	return q.Type == QuestionTypeShortAnswer ||
		q.Type == QuestionTypeEssay ||
		q.Type == QuestionTypeBroadText
}

// RequiresReview возвращает true для вопросов, требующих ручной проверки
// преподавателем. Такие ответы не оцениваются автоматически при сдаче.
func (q *Question) RequiresReview() bool {
	return q.Type == QuestionTypeBroadText || q.Type == QuestionTypeEssay
}

// IsCorrect проверяет ответ точным строковым сравнением с CorrectAnswer.
// Вызывающий обязан нормализовать выбор варианта к строковому значению
// опции до вызова (индексы вариантов здесь не принимаются).
func (q *Question) IsCorrect(answer string) bool {
	return answer == q.CorrectAnswer
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// HasOption проверяет, входит ли значение в список вариантов ответа
func (q *Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// IsValidQuestionType проверяет, что тип вопроса поддерживается
func IsValidQuestionType(t string) bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse,
		QuestionTypeShortAnswer, QuestionTypeEssay, QuestionTypeBroadText:
		return true
	}
	return false
}
