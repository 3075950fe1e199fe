package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lms-api/internal/handler/dto"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
	"github.com/yourusername/lms-api/internal/service"
	"github.com/yourusername/lms-api/internal/service/grading"
)

// AttemptHandler обрабатывает студенческие запросы: прохождение тестов и прогресс курса
type AttemptHandler struct {
	attemptService  *service.AttemptService
	progressService *service.ProgressService
}

// NewAttemptHandler создает новый обработчик попыток
func NewAttemptHandler(attemptService *service.AttemptService, progressService *service.ProgressService) *AttemptHandler {
	return &AttemptHandler{
		attemptService:  attemptService,
		progressService: progressService,
	}
}

// GetQuiz возвращает активный тест с вопросами (без правильных ответов)
// и попытки текущего студента
// GET /api/quizzes/:id
func (h *AttemptHandler) GetQuiz(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	results, err := h.attemptService.GetQuizForStudent(studentID, quizID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz":     dto.NewQuizResponse(results.Quiz, true),
		"attempts": dto.NewListAttemptResponse(results.Attempts),
	})
}

// StartAttempt начинает новую попытку прохождения теста
// POST /api/quizzes/:id/attempts
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	result, err := h.attemptService.StartAttempt(studentID, quizID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"attempt_id":     result.AttemptID,
		"attempt_number": result.AttemptNumber,
		"started_at":     result.StartedAt,
		"time_limit":     result.TimeLimitMin,
	})
}

// SubmitAttemptRequest представляет запрос на сдачу попытки
type SubmitAttemptRequest struct {
	Answers []struct {
		QuestionID uint   `json:"question_id" binding:"required"`
		Answer     string `json:"answer"`
	} `json:"answers"`
}

// SubmitAttempt сдает попытку на оценку
// POST /api/quizzes/:id/attempts/:attempt_id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)
	attemptID := c.MustGet("attemptID").(uint)

	var req SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	submitted := make([]grading.SubmittedAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		submitted = append(submitted, grading.SubmittedAnswer{
			QuestionID: a.QuestionID,
			Answer:     a.Answer,
		})
	}

	result, err := h.attemptService.SubmitAttempt(studentID, quizID, attemptID, submitted)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"score":         result.Score,
		"points_earned": result.PointsEarned,
		"total_points":  result.TotalPoints,
		"passed":        result.Passed,
		"time_spent":    result.TimeSpentSec,
		"needs_review":  result.NeedsReview,
	})
}

// GetResults возвращает историю попыток студента по тесту
// GET /api/quizzes/:id/results
func (h *AttemptHandler) GetResults(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	results, err := h.attemptService.GetResults(studentID, quizID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	attempts := make([]*dto.AttemptResponse, len(results.Attempts))
	for i := range results.Attempts {
		// Детализация ответов нужна студенту для разбора результатов
		attempts[i] = dto.NewAttemptResponse(&results.Attempts[i], true)
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz":     dto.NewQuizResponse(results.Quiz, false),
		"attempts": attempts,
	})
}

// ListCourseQuizzes возвращает активные тесты курса с попытками студента
// GET /api/courses/:course_id/quizzes
func (h *AttemptHandler) ListCourseQuizzes(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	courseID := c.MustGet("courseID").(uint)

	courseQuizzes, err := h.attemptService.ListQuizzesByCourse(studentID, courseID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	response := make([]gin.H, 0, len(courseQuizzes))
	for i := range courseQuizzes {
		response = append(response, gin.H{
			"quiz":     dto.NewQuizResponse(&courseQuizzes[i].Quiz, false),
			"attempts": dto.NewListAttemptResponse(courseQuizzes[i].Attempts),
		})
	}

	c.JSON(http.StatusOK, gin.H{"quizzes": response, "total": len(response)})
}

// MarkLectureViewed помечает лекцию курса просмотренной
// POST /api/courses/:course_id/lectures/:lecture_id/viewed
func (h *AttemptHandler) MarkLectureViewed(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	courseID := c.MustGet("courseID").(uint)
	lectureID := c.MustGet("lectureID").(uint)

	if err := h.progressService.MarkLectureViewed(studentID, courseID, lectureID); err != nil {
		h.handleAttemptError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Lecture marked as viewed"})
}

// GetCourseProgress возвращает агрегат прогресса студента по курсу
// GET /api/courses/:course_id/progress
func (h *AttemptHandler) GetCourseProgress(c *gin.Context) {
	studentID := c.MustGet("user_id").(uint)
	courseID := c.MustGet("courseID").(uint)

	progress, err := h.progressService.GetProgress(studentID, courseID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// handleAttemptError обрабатывает ошибки сервисов и отправляет соответствующий HTTP ответ
func (h *AttemptHandler) handleAttemptError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in AttemptHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
