package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// LectureProgress представляет прогресс просмотра одной лекции
type LectureProgress struct {
	LectureID uint       `json:"lecture_id"`
	Viewed    bool       `json:"viewed"`
	ViewedAt  *time.Time `json:"viewed_at,omitempty"`
}

// LecturesProgress - пользовательский тип для хранения прогресса лекций в JSONB
type LecturesProgress []LectureProgress

// Scan реализует интерфейс sql.Scanner для LecturesProgress
func (l *LecturesProgress) Scan(value interface{}) error {
	if value == nil {
		*l = LecturesProgress{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*l = LecturesProgress{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Value реализует интерфейс driver.Valuer для LecturesProgress
func (l LecturesProgress) Value() (driver.Value, error) {
	if l == nil || len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// QuizResultEntry представляет зафиксированный в прогрессе курса результат теста
type QuizResultEntry struct {
	QuizID      uint      `json:"quiz_id"`
	Score       int       `json:"score"`
	Passed      bool      `json:"passed"`
	CompletedAt time.Time `json:"completed_at"`
}

// QuizResultEntries - пользовательский тип для хранения результатов тестов в JSONB
type QuizResultEntries []QuizResultEntry

// Scan реализует интерфейс sql.Scanner для QuizResultEntries
func (q *QuizResultEntries) Scan(value interface{}) error {
	if value == nil {
		*q = QuizResultEntries{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*q = QuizResultEntries{}
		return nil
	}

	return json.Unmarshal(bytes, q)
}

// Value реализует интерфейс driver.Valuer для QuizResultEntries
func (q QuizResultEntries) Value() (driver.Value, error) {
	if q == nil || len(q) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(q)
}

// CourseProgress представляет агрегат прогресса студента по курсу.
// Ядро попыток пишет сюда только через ProgressSink (best-effort);
// отсутствие записи трактуется как "ни одна лекция не просмотрена".
type CourseProgress struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	StudentID   uint              `gorm:"not null;index;uniqueIndex:idx_progress_unique" json:"student_id"`
	CourseID    uint              `gorm:"not null;index;uniqueIndex:idx_progress_unique" json:"course_id"`
	Lectures    LecturesProgress  `gorm:"type:jsonb;not null" json:"lectures_progress"`
	QuizResults QuizResultEntries `gorm:"type:jsonb;not null" json:"quiz_results"`
	Completed   bool              `gorm:"not null;default:false" json:"completed"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (CourseProgress) TableName() string {
	return "course_progress"
}

// ViewedLectureIDs возвращает идентификаторы просмотренных лекций
func (p *CourseProgress) ViewedLectureIDs() []uint {
	ids := make([]uint, 0, len(p.Lectures))
	for _, lp := range p.Lectures {
		if lp.Viewed {
			ids = append(ids, lp.LectureID)
		}
	}
	return ids
}

// UpsertQuizResult записывает или обновляет результат теста в агрегате.
// Повторная сдача того же теста заменяет предыдущую запись.
func (p *CourseProgress) UpsertQuizResult(entry QuizResultEntry) {
	for i, existing := range p.QuizResults {
		if existing.QuizID == entry.QuizID {
			p.QuizResults[i] = entry
			return
		}
	}
	p.QuizResults = append(p.QuizResults, entry)
}

// MarkLectureViewed помечает лекцию просмотренной (идемпотентно)
func (p *CourseProgress) MarkLectureViewed(lectureID uint, viewedAt time.Time) {
	for i, lp := range p.Lectures {
		if lp.LectureID == lectureID {
			if !lp.Viewed {
				p.Lectures[i].Viewed = true
				p.Lectures[i].ViewedAt = &viewedAt
			}
			return
		}
	}
	p.Lectures = append(p.Lectures, LectureProgress{
		LectureID: lectureID,
		Viewed:    true,
		ViewedAt:  &viewedAt,
	})
}
