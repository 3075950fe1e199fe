package dto

import (
	"time"

	"github.com/yourusername/lms-api/internal/domain/entity"
)

// QuestionResponse представляет вопрос в формате для ответа клиенту.
// Правильный ответ сюда не попадает никогда: поле CorrectAnswer у entity.Question
// исключено из JSON, а DTO его вовсе не содержит.
type QuestionResponse struct {
	ID       uint     `json:"id"`
	QuizID   uint     `json:"quiz_id"`
	Type     string   `json:"type"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Points   int      `json:"points"`
	Position int      `json:"position"`
}

// QuizResponse представляет тест в формате для ответа клиенту
type QuizResponse struct {
	ID              uint               `json:"id"`
	CourseID        uint               `json:"course_id"`
	LectureID       *uint              `json:"lecture_id,omitempty"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	PassingScore    int                `json:"passing_score"`
	TimeLimitMin    int                `json:"time_limit"`
	AttemptsAllowed int                `json:"attempts_allowed"`
	IsActive        bool               `json:"is_active"`
	QuestionCount   int                `json:"question_count"`
	TotalPoints     int                `json:"total_points"`
	Questions       []QuestionResponse `json:"questions,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// AttemptResponse представляет попытку в формате для ответа клиенту
type AttemptResponse struct {
	ID            uint                  `json:"id"`
	QuizID        uint                  `json:"quiz_id"`
	StudentID     uint                  `json:"student_id"`
	AttemptNumber int                   `json:"attempt_number"`
	Status        string                `json:"status"`
	Answers       []AttemptAnswerDetail `json:"answers,omitempty"`
	Score         int                   `json:"score"`
	PointsEarned  int                   `json:"points_earned"`
	TotalPoints   int                   `json:"total_points"`
	Passed        bool                  `json:"passed"`
	NeedsReview   bool                  `json:"needs_review"`
	StartedAt     time.Time             `json:"started_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	TimeSpentSec  int                   `json:"time_spent"`
}

// AttemptAnswerDetail представляет один оцененный ответ внутри попытки
type AttemptAnswerDetail struct {
	QuestionID   uint   `json:"question_id"`
	Answer       string `json:"answer"`
	IsCorrect    *bool  `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
	NeedsReview  bool   `json:"needs_review"`
}

// NewQuestionResponse создает DTO для вопроса
func NewQuestionResponse(q *entity.Question) QuestionResponse {
	return QuestionResponse{
		ID:       q.ID,
		QuizID:   q.QuizID,
		Type:     q.Type,
		Prompt:   q.Prompt,
		Options:  []string(q.Options),
		Points:   q.Points,
		Position: q.Position,
	}
}

// NewQuizResponse создает DTO для теста
func NewQuizResponse(quiz *entity.Quiz, includeQuestions bool) *QuizResponse {
	if quiz == nil {
		return nil
	}

	var questionsDTO []QuestionResponse
	if includeQuestions {
		questionsDTO = make([]QuestionResponse, len(quiz.Questions))
		for i := range quiz.Questions {
			questionsDTO[i] = NewQuestionResponse(&quiz.Questions[i])
		}
	}

	return &QuizResponse{
		ID:              quiz.ID,
		CourseID:        quiz.CourseID,
		LectureID:       quiz.LectureID,
		Title:           quiz.Title,
		Description:     quiz.Description,
		PassingScore:    quiz.PassingScore,
		TimeLimitMin:    quiz.TimeLimitMin,
		AttemptsAllowed: quiz.AttemptsAllowed,
		IsActive:        quiz.IsActive,
		QuestionCount:   len(quiz.Questions),
		TotalPoints:     quiz.TotalPoints(),
		Questions:       questionsDTO,
		CreatedAt:       quiz.CreatedAt,
		UpdatedAt:       quiz.UpdatedAt,
	}
}

// NewListQuizResponse создает список DTO тестов без вопросов
func NewListQuizResponse(quizzes []entity.Quiz) []*QuizResponse {
	responses := make([]*QuizResponse, len(quizzes))
	for i := range quizzes {
		responses[i] = NewQuizResponse(&quizzes[i], false)
	}
	return responses
}

// NewAttemptResponse создает DTO для попытки.
// includeAnswers=false для списков, где детализация ответов не нужна.
func NewAttemptResponse(attempt *entity.QuizAttempt, includeAnswers bool) *AttemptResponse {
	if attempt == nil {
		return nil
	}

	var answers []AttemptAnswerDetail
	if includeAnswers {
		answers = make([]AttemptAnswerDetail, len(attempt.Answers))
		for i, a := range attempt.Answers {
			answers[i] = AttemptAnswerDetail{
				QuestionID:   a.QuestionID,
				Answer:       a.Answer,
				IsCorrect:    a.IsCorrect,
				PointsEarned: a.PointsEarned,
				NeedsReview:  a.NeedsReview,
			}
		}
	}

	return &AttemptResponse{
		ID:            attempt.ID,
		QuizID:        attempt.QuizID,
		StudentID:     attempt.StudentID,
		AttemptNumber: attempt.AttemptNumber,
		Status:        attempt.Status,
		Answers:       answers,
		Score:         attempt.Score,
		PointsEarned:  attempt.PointsEarned,
		TotalPoints:   attempt.TotalPoints,
		Passed:        attempt.Passed,
		NeedsReview:   attempt.HasUnreviewedAnswers(),
		StartedAt:     attempt.StartedAt,
		CompletedAt:   attempt.CompletedAt,
		TimeSpentSec:  attempt.TimeSpentSec,
	}
}

// NewListAttemptResponse создает список DTO попыток без детализации ответов
func NewListAttemptResponse(attempts []entity.QuizAttempt) []*AttemptResponse {
	responses := make([]*AttemptResponse, len(attempts))
	for i := range attempts {
		responses[i] = NewAttemptResponse(&attempts[i], false)
	}
	return responses
}
