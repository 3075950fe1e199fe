package service

import (
	"fmt"
	"log"
	"time"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// QuizService управляет авторингом тестов преподавателем
type QuizService struct {
	quizRepo     repository.QuizRepository
	questionRepo repository.QuestionRepository
	attemptRepo  repository.AttemptRepository
	userRepo     repository.UserRepository
	cacheRepo    repository.CacheRepository
}

// NewQuizService создает новый сервис тестов
func NewQuizService(
	quizRepo repository.QuizRepository,
	questionRepo repository.QuestionRepository,
	attemptRepo repository.AttemptRepository,
	userRepo repository.UserRepository,
	cacheRepo repository.CacheRepository,
) *QuizService {
	return &QuizService{
		quizRepo:     quizRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
		userRepo:     userRepo,
		cacheRepo:    cacheRepo,
	}
}

// CreateQuizInput содержит параметры создания или обновления теста
type CreateQuizInput struct {
	CourseID        uint
	LectureID       *uint
	Title           string
	Description     string
	PassingScore    int
	TimeLimitMin    int
	AttemptsAllowed int
}

// QuestionInput содержит параметры одного вопроса
type QuestionInput struct {
	Type          string
	Prompt        string
	Options       []string
	CorrectAnswer string
	Points        int
}

// CreateQuiz создает новый неактивный тест.
// Тест становится видимым студентам только после SetQuizActive.
func (s *QuizService) CreateQuiz(instructorID uint, input CreateQuizInput) (*entity.Quiz, error) {
	if err := validateQuizInput(input); err != nil {
		return nil, err
	}

	quiz := &entity.Quiz{
		CourseID:        input.CourseID,
		LectureID:       input.LectureID,
		InstructorID:    instructorID,
		Title:           input.Title,
		Description:     input.Description,
		PassingScore:    input.PassingScore,
		TimeLimitMin:    input.TimeLimitMin,
		AttemptsAllowed: input.AttemptsAllowed,
		IsActive:        false,
	}

	if err := s.quizRepo.Create(quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	log.Printf("[QuizService] Преподаватель #%d создал тест #%d '%s' для курса #%d",
		instructorID, quiz.ID, quiz.Title, quiz.CourseID)
	return quiz, nil
}

// UpdateQuiz обновляет параметры теста преподавателя-владельца
func (s *QuizService) UpdateQuiz(instructorID, quizID uint, input CreateQuizInput) (*entity.Quiz, error) {
	if err := validateQuizInput(input); err != nil {
		return nil, err
	}

	quiz, err := s.getOwnedQuiz(instructorID, quizID)
	if err != nil {
		return nil, err
	}

	quiz.LectureID = input.LectureID
	quiz.Title = input.Title
	quiz.Description = input.Description
	quiz.PassingScore = input.PassingScore
	quiz.TimeLimitMin = input.TimeLimitMin
	quiz.AttemptsAllowed = input.AttemptsAllowed

	if err := s.quizRepo.Update(quiz); err != nil {
		return nil, fmt.Errorf("failed to update quiz: %w", err)
	}

	s.invalidateCache(quizID)
	return quiz, nil
}

// SetQuizActive переключает видимость теста для студентов.
// Активировать тест без вопросов нельзя.
func (s *QuizService) SetQuizActive(instructorID, quizID uint, active bool) error {
	if _, err := s.getOwnedQuiz(instructorID, quizID); err != nil {
		return err
	}

	if active {
		questions, err := s.questionRepo.GetByQuizID(quizID)
		if err != nil {
			return fmt.Errorf("failed to get questions: %w", err)
		}
		if len(questions) == 0 {
			return fmt.Errorf("%w: cannot activate quiz without questions", apperrors.ErrValidation)
		}
	}

	if err := s.quizRepo.SetActive(quizID, active); err != nil {
		return fmt.Errorf("failed to set quiz active state: %w", err)
	}

	s.invalidateCache(quizID)
	log.Printf("[QuizService] Тест #%d переключен: is_active=%t", quizID, active)
	return nil
}

// DeleteQuiz удаляет тест вместе с вопросами.
// Тест с существующими попытками удалить нельзя: история результатов
// студентов не должна пропадать.
func (s *QuizService) DeleteQuiz(instructorID, quizID uint) error {
	if _, err := s.getOwnedQuiz(instructorID, quizID); err != nil {
		return err
	}

	count, err := s.attemptRepo.CountByQuiz(quizID)
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}
	if count > 0 {
		return ErrQuizHasAttempts
	}

	if err := s.quizRepo.Delete(quizID); err != nil {
		return fmt.Errorf("failed to delete quiz: %w", err)
	}

	s.invalidateCache(quizID)
	log.Printf("[QuizService] Тест #%d удален преподавателем #%d", quizID, instructorID)
	return nil
}

// AddQuestions добавляет вопросы к тесту преподавателя-владельца.
// Позиции новых вопросов продолжают существующую нумерацию.
func (s *QuizService) AddQuestions(instructorID, quizID uint, inputs []QuestionInput) ([]entity.Question, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one question required", apperrors.ErrValidation)
	}

	if _, err := s.getOwnedQuiz(instructorID, quizID); err != nil {
		return nil, err
	}

	existing, err := s.questionRepo.GetByQuizID(quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}

	questions := make([]entity.Question, 0, len(inputs))
	for i, input := range inputs {
		if err := validateQuestionInput(input); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		questions = append(questions, entity.Question{
			QuizID:        quizID,
			Type:          input.Type,
			Prompt:        input.Prompt,
			Options:       entity.StringArray(input.Options),
			CorrectAnswer: input.CorrectAnswer,
			Points:        input.Points,
			Position:      len(existing) + i + 1,
		})
	}

	if err := s.questionRepo.CreateBatch(questions); err != nil {
		return nil, fmt.Errorf("failed to create questions: %w", err)
	}

	s.invalidateCache(quizID)
	log.Printf("[QuizService] К тесту #%d добавлено %d вопросов", quizID, len(questions))
	return questions, nil
}

// ListCourseQuizzes возвращает все тесты курса преподавателя, включая неактивные
func (s *QuizService) ListCourseQuizzes(courseID uint) ([]entity.Quiz, error) {
	return s.quizRepo.GetByCourse(courseID)
}

// GetQuizWithQuestions возвращает тест с вопросами для преподавателя-владельца
// (с правильными ответами)
func (s *QuizService) GetQuizWithQuestions(instructorID, quizID uint) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetWithQuestions(quizID)
	if err != nil {
		return nil, err
	}
	if quiz.InstructorID != instructorID {
		return nil, ErrNotQuizOwner
	}
	return quiz, nil
}

// AttemptExportRow представляет одну строку выгрузки результатов теста
type AttemptExportRow struct {
	StudentID     uint
	Username      string
	Email         string
	AttemptNumber int
	Status        string
	Score         int
	PointsEarned  int
	TotalPoints   int
	Passed        bool
	NeedsReview   bool
	TimeSpentSec  int
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// ExportAttempts собирает все попытки теста в строки выгрузки,
// обогащённые данными студентов. Формат файла (csv/xlsx) решает хендлер.
func (s *QuizService) ExportAttempts(instructorID, quizID uint) (*entity.Quiz, []AttemptExportRow, error) {
	quiz, err := s.getOwnedQuiz(instructorID, quizID)
	if err != nil {
		return nil, nil, err
	}

	attempts, err := s.attemptRepo.GetByQuiz(quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	// Студенты кешируются в пределах выгрузки: у студента много попыток
	users := make(map[uint]*entity.User)
	rows := make([]AttemptExportRow, 0, len(attempts))
	for _, attempt := range attempts {
		user, ok := users[attempt.StudentID]
		if !ok {
			user, err = s.userRepo.GetByID(attempt.StudentID)
			if err != nil {
				// Удалённый аккаунт не должен ломать выгрузку целиком
				log.Printf("[QuizService] Студент #%d не найден при выгрузке теста #%d: %v",
					attempt.StudentID, quizID, err)
				user = &entity.User{ID: attempt.StudentID}
			}
			users[attempt.StudentID] = user
		}

		rows = append(rows, AttemptExportRow{
			StudentID:     attempt.StudentID,
			Username:      user.Username,
			Email:         user.Email,
			AttemptNumber: attempt.AttemptNumber,
			Status:        attempt.Status,
			Score:         attempt.Score,
			PointsEarned:  attempt.PointsEarned,
			TotalPoints:   attempt.TotalPoints,
			Passed:        attempt.Passed,
			NeedsReview:   attempt.HasUnreviewedAnswers(),
			TimeSpentSec:  attempt.TimeSpentSec,
			StartedAt:     attempt.StartedAt,
			CompletedAt:   attempt.CompletedAt,
		})
	}

	return quiz, rows, nil
}

// getOwnedQuiz возвращает тест, если он принадлежит преподавателю
func (s *QuizService) getOwnedQuiz(instructorID, quizID uint) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if quiz.InstructorID != instructorID {
		return nil, ErrNotQuizOwner
	}
	return quiz, nil
}

// invalidateCache сбрасывает кеш теста после любой записи
func (s *QuizService) invalidateCache(quizID uint) {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Delete(quizCacheKey(quizID)); err != nil {
		log.Printf("[QuizService] Не удалось сбросить кеш теста #%d: %v", quizID, err)
	}
}

func validateQuizInput(input CreateQuizInput) error {
	if input.Title == "" {
		return fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	if input.PassingScore < 0 || input.PassingScore > 100 {
		return fmt.Errorf("%w: passing score must be within 0..100", apperrors.ErrValidation)
	}
	if input.TimeLimitMin < 0 {
		return fmt.Errorf("%w: time limit cannot be negative", apperrors.ErrValidation)
	}
	if input.AttemptsAllowed < 1 {
		return fmt.Errorf("%w: attempts allowed must be at least 1", apperrors.ErrValidation)
	}
	return nil
}

func validateQuestionInput(input QuestionInput) error {
	if !entity.IsValidQuestionType(input.Type) {
		return fmt.Errorf("%w: unknown question type '%s'", apperrors.ErrValidation, input.Type)
	}
	if input.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", apperrors.ErrValidation)
	}
	if input.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", apperrors.ErrValidation)
	}

	q := entity.Question{Type: input.Type, Options: entity.StringArray(input.Options)}
	if q.IsChoiceType() {
		if len(input.Options) < 2 {
			return fmt.Errorf("%w: choice question needs at least 2 options", apperrors.ErrValidation)
		}
		if !q.HasOption(input.CorrectAnswer) {
			return fmt.Errorf("%w: correct answer must be one of the options", apperrors.ErrValidation)
		}
	} else {
		if len(input.Options) > 0 {
			return fmt.Errorf("%w: free-text question cannot have options", apperrors.ErrValidation)
		}
		if input.Type == entity.QuestionTypeShortAnswer && input.CorrectAnswer == "" {
			return fmt.Errorf("%w: short answer question requires a correct answer", apperrors.ErrValidation)
		}
	}
	return nil
}
