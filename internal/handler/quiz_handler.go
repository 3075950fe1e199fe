package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/lms-api/internal/handler/dto"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
	"github.com/yourusername/lms-api/internal/service"
)

// QuizHandler обрабатывает преподавательские запросы: авторинг тестов,
// ручная проверка и выгрузка результатов
type QuizHandler struct {
	quizService    *service.QuizService
	attemptService *service.AttemptService
}

// NewQuizHandler создает новый обработчик тестов
func NewQuizHandler(quizService *service.QuizService, attemptService *service.AttemptService) *QuizHandler {
	return &QuizHandler{
		quizService:    quizService,
		attemptService: attemptService,
	}
}

// CreateQuizRequest представляет запрос на создание или обновление теста
type CreateQuizRequest struct {
	CourseID        uint   `json:"course_id" binding:"required"`
	LectureID       *uint  `json:"lecture_id,omitempty"`
	Title           string `json:"title" binding:"required,min=3,max=100"`
	Description     string `json:"description" binding:"omitempty,max=500"`
	PassingScore    int    `json:"passing_score" binding:"omitempty,min=0,max=100"`
	TimeLimitMin    int    `json:"time_limit" binding:"omitempty,min=0"`
	AttemptsAllowed int    `json:"attempts_allowed" binding:"omitempty,min=1"`
}

func (r *CreateQuizRequest) toInput() service.CreateQuizInput {
	// Дефолтные значения
	passingScore := r.PassingScore
	if passingScore == 0 {
		passingScore = 70
	}
	attemptsAllowed := r.AttemptsAllowed
	if attemptsAllowed == 0 {
		attemptsAllowed = 1
	}
	return service.CreateQuizInput{
		CourseID:        r.CourseID,
		LectureID:       r.LectureID,
		Title:           r.Title,
		Description:     r.Description,
		PassingScore:    passingScore,
		TimeLimitMin:    r.TimeLimitMin,
		AttemptsAllowed: attemptsAllowed,
	}
}

// CreateQuiz обрабатывает запрос на создание теста
// POST /api/instructor/quizzes
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)

	var req CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizService.CreateQuiz(instructorID, req.toInput())
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewQuizResponse(quiz, false))
}

// UpdateQuiz обрабатывает запрос на обновление теста
// PUT /api/instructor/quizzes/:id
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	var req CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizService.UpdateQuiz(instructorID, quizID, req.toInput())
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false))
}

// GetQuiz возвращает тест с вопросами для преподавателя-владельца
// GET /api/instructor/quizzes/:id
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.quizService.GetQuizWithQuestions(instructorID, quizID)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, true))
}

// AddQuestionsRequest представляет запрос на добавление вопросов
type AddQuestionsRequest struct {
	Questions []struct {
		Type          string   `json:"type" binding:"required"`
		Prompt        string   `json:"prompt" binding:"required,min=3,max=1000"`
		Options       []string `json:"options,omitempty"`
		CorrectAnswer string   `json:"correct_answer,omitempty"`
		Points        int      `json:"points" binding:"required,min=1,max=100"`
	} `json:"questions" binding:"required,min=1"`
}

// AddQuestions обрабатывает запрос на добавление вопросов к тесту
// POST /api/instructor/quizzes/:id/questions
func (h *QuizHandler) AddQuestions(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	var req AddQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]service.QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		inputs = append(inputs, service.QuestionInput{
			Type:          q.Type,
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		})
	}

	questions, err := h.quizService.AddQuestions(instructorID, quizID, inputs)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Questions added successfully",
		"total":   len(questions),
	})
}

// SetActiveRequest представляет запрос на переключение видимости теста
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetActive переключает видимость теста для студентов
// PATCH /api/instructor/quizzes/:id/active
func (h *QuizHandler) SetActive(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.quizService.SetQuizActive(instructorID, quizID, *req.IsActive); err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz active state updated"})
}

// DeleteQuiz удаляет тест без попыток
// DELETE /api/instructor/quizzes/:id
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)

	if err := h.quizService.DeleteQuiz(instructorID, quizID); err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz deleted successfully"})
}

// ListCourseQuizzes возвращает все тесты курса, включая неактивные
// GET /api/instructor/courses/:course_id/quizzes
func (h *QuizHandler) ListCourseQuizzes(c *gin.Context) {
	courseID := c.MustGet("courseID").(uint)

	quizzes, err := h.quizService.ListCourseQuizzes(courseID)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListQuizResponse(quizzes))
}

// ReviewAttemptRequest представляет запрос на ручную проверку попытки
type ReviewAttemptRequest struct {
	Reviews []struct {
		QuestionID   uint `json:"question_id" binding:"required"`
		IsCorrect    bool `json:"is_correct"`
		PointsEarned int  `json:"points_earned" binding:"min=0"`
	} `json:"reviews" binding:"required,min=1"`
}

// ReviewAttempt применяет вердикты преподавателя к ответам, ожидающим
// ручной проверки, и пересчитывает итог попытки
// POST /api/instructor/attempts/:attempt_id/review
func (h *QuizHandler) ReviewAttempt(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	attemptID := c.MustGet("attemptID").(uint)

	var req ReviewAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reviews := make([]service.AnswerReview, 0, len(req.Reviews))
	for _, r := range req.Reviews {
		reviews = append(reviews, service.AnswerReview{
			QuestionID:   r.QuestionID,
			IsCorrect:    r.IsCorrect,
			PointsEarned: r.PointsEarned,
		})
	}

	result, err := h.attemptService.ReviewAttempt(instructorID, attemptID, reviews)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"score":         result.Score,
		"points_earned": result.PointsEarned,
		"total_points":  result.TotalPoints,
		"passed":        result.Passed,
		"needs_review":  result.NeedsReview,
	})
}

// ExportAttempts экспортирует попытки теста в CSV или Excel формате
// GET /api/instructor/quizzes/:id/attempts/export?format=csv|xlsx
func (h *QuizHandler) ExportAttempts(c *gin.Context) {
	instructorID := c.MustGet("user_id").(uint)
	quizID := c.MustGet("quizID").(uint)
	format := c.DefaultQuery("format", "csv")

	quiz, rows, err := h.quizService.ExportAttempts(instructorID, quizID)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}

	filename := fmt.Sprintf("quiz_%d_attempts_%s", quiz.ID, time.Now().Format("2006-01-02"))

	switch format {
	case "xlsx":
		h.exportXLSX(c, rows, filename)
	default:
		h.exportCSV(c, rows, filename)
	}
}

// exportCSV экспортирует попытки в CSV с правильным экранированием спецсимволов
func (h *QuizHandler) exportCSV(c *gin.Context, rows []service.AttemptExportRow, filename string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", filename))

	// BOM для корректного отображения UTF-8 в Excel
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	// Используем encoding/csv для правильного экранирования запятых/кавычек
	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	writer.Write([]string{"Студент", "Email", "Попытка", "Статус", "Оценка (%)", "Баллы", "Всего баллов", "Сдан", "Требует проверки", "Время (сек)", "Начата", "Завершена"})

	for _, r := range rows {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}

		writer.Write([]string{
			sanitizeForExcel(r.Username),
			sanitizeForExcel(r.Email),
			strconv.Itoa(r.AttemptNumber),
			r.Status,
			strconv.Itoa(r.Score),
			strconv.Itoa(r.PointsEarned),
			strconv.Itoa(r.TotalPoints),
			yesNo(r.Passed),
			yesNo(r.NeedsReview),
			strconv.Itoa(r.TimeSpentSec),
			r.StartedAt.Format(time.RFC3339),
			completed,
		})
	}
}

// exportXLSX экспортирует попытки в Excel с использованием StreamWriter
func (h *QuizHandler) exportXLSX(c *gin.Context, rows []service.AttemptExportRow, filename string) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Попытки"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[QuizHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	headers := []interface{}{"Студент", "Email", "Попытка", "Статус", "Оценка (%)", "Баллы", "Всего баллов", "Сдан", "Требует проверки", "Время (сек)", "Начата", "Завершена"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[QuizHandler] Ошибка записи заголовков: %v", err)
	}

	for i, r := range rows {
		rowNum := i + 2 // Первая строка - заголовки
		cell := fmt.Sprintf("A%d", rowNum)

		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}

		row := []interface{}{
			sanitizeForExcel(r.Username),
			sanitizeForExcel(r.Email),
			r.AttemptNumber,
			r.Status,
			r.Score,
			r.PointsEarned,
			r.TotalPoints,
			yesNo(r.Passed),
			yesNo(r.NeedsReview),
			r.TimeSpentSec,
			r.StartedAt.Format(time.RFC3339),
			completed,
		}
		if err := sw.SetRow(cell, row); err != nil {
			log.Printf("[QuizHandler] Ошибка записи строки %d: %v", rowNum, err)
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[QuizHandler] Ошибка при Flush: %v", err)
	}

	if err := f.Write(c.Writer); err != nil {
		log.Printf("[QuizHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "Да"
	}
	return "Нет"
}

// handleQuizError обрабатывает ошибки сервисов и отправляет соответствующий HTTP ответ
func (h *QuizHandler) handleQuizError(c *gin.Context, err error) {
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
		log.Printf("ERROR: Internal server error in QuizHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
