package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
	"github.com/yourusername/lms-api/internal/service/grading"
)

// quizCacheTTL - время жизни кеша теста с вопросами.
// Тест читается на каждый старт и сдачу, пишется редко.
const quizCacheTTL = 5 * time.Minute

// quizCacheKey возвращает ключ кеша для теста с вопросами
func quizCacheKey(quizID uint) string {
	return fmt.Sprintf("quiz:%d:questions", quizID)
}

// quizCacheEntry - представление теста в кеше. entity.Question скрывает
// CorrectAnswer от клиентского JSON (json:"-"), поэтому прямая сериализация
// теста потеряла бы эталонные ответы и кеш-хит отдавал бы грейдеру вопросы
// с пустым CorrectAnswer. Эталоны хранятся отдельной картой и
// восстанавливаются при чтении.
type quizCacheEntry struct {
	Quiz           *entity.Quiz    `json:"quiz"`
	CorrectAnswers map[uint]string `json:"correct_answers"`
}

func newQuizCacheEntry(quiz *entity.Quiz) quizCacheEntry {
	answers := make(map[uint]string, len(quiz.Questions))
	for _, q := range quiz.Questions {
		answers[q.ID] = q.CorrectAnswer
	}
	return quizCacheEntry{Quiz: quiz, CorrectAnswers: answers}
}

// restore возвращает тест с восстановленными эталонными ответами
func (e *quizCacheEntry) restore() *entity.Quiz {
	for i := range e.Quiz.Questions {
		e.Quiz.Questions[i].CorrectAnswer = e.CorrectAnswers[e.Quiz.Questions[i].ID]
	}
	return e.Quiz
}

// AttemptService управляет жизненным циклом попытки:
// in_progress → processing → completed. Единственная точка сериализации
// конкурирующих сдач — условный UPDATE статуса в AttemptRepository
// (ClaimForProcessing); in-process блокировок нет.
type AttemptService struct {
	quizRepo    repository.QuizRepository
	attemptRepo repository.AttemptRepository
	cacheRepo   repository.CacheRepository
	eligibility *EligibilityChecker
	progress    ProgressSink

	// now подменяется в тестах для детерминированной проверки лимита времени
	now func() time.Time
}

// NewAttemptService создает новый сервис попыток
func NewAttemptService(
	quizRepo repository.QuizRepository,
	attemptRepo repository.AttemptRepository,
	cacheRepo repository.CacheRepository,
	eligibility *EligibilityChecker,
	progress ProgressSink,
) *AttemptService {
	return &AttemptService{
		quizRepo:    quizRepo,
		attemptRepo: attemptRepo,
		cacheRepo:   cacheRepo,
		eligibility: eligibility,
		progress:    progress,
		now:         time.Now,
	}
}

// StartResult представляет итог успешного старта попытки
type StartResult struct {
	AttemptID     uint
	AttemptNumber int
	StartedAt     time.Time
	TimeLimitMin  int // 0 = без ограничения
}

// SubmitResult представляет итог успешной сдачи попытки
type SubmitResult struct {
	Score        int
	PointsEarned int
	TotalPoints  int
	Passed       bool
	TimeSpentSec int
	NeedsReview  bool
}

// QuizResults представляет сводку теста с историей попыток студента
type QuizResults struct {
	Quiz     *entity.Quiz
	Attempts []entity.QuizAttempt
}

// StartAttempt создает новую попытку прохождения теста.
// attempt_number = 1 + число существующих попыток; при гонке двух стартов
// проигравшему вставку отклонит уникальный индекс, и он получит
// ErrConcurrentStart (клиент должен перечитать список попыток).
func (s *AttemptService) StartAttempt(studentID, quizID uint) (*StartResult, error) {
	quiz, err := s.loadActiveQuiz(quizID)
	if err != nil {
		return nil, err
	}

	if err := s.eligibility.CheckCanStart(studentID, quiz); err != nil {
		return nil, err
	}

	count, err := s.attemptRepo.CountByStudentAndQuiz(studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	attempt := &entity.QuizAttempt{
		QuizID:        quizID,
		StudentID:     studentID,
		CourseID:      quiz.CourseID,
		AttemptNumber: int(count) + 1,
		Status:        entity.AttemptStatusInProgress,
		Answers:       entity.AttemptAnswers{},
		TotalPoints:   quiz.TotalPoints(),
		StartedAt:     s.now(),
	}

	if err := s.attemptRepo.Create(attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttempt) {
			return nil, ErrConcurrentStart
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	log.Printf("[AttemptService] Студент #%d начал попытку #%d теста #%d (attempt_id=%d)",
		studentID, attempt.AttemptNumber, quizID, attempt.ID)

	return &StartResult{
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		StartedAt:     attempt.StartedAt,
		TimeLimitMin:  quiz.TimeLimitMin,
	}, nil
}

// SubmitAttempt оценивает и финализирует попытку.
//
// Порядок шагов фиксирован:
//  1. загрузка теста и попытки (NOT_FOUND);
//  2. проверка принадлежности (FORBIDDEN);
//  3. атомарный захват in_progress → processing — ровно один победитель
//     среди конкурирующих сдач, проигравшие получают ErrAlreadySubmitted;
//  4. проверка лимита времени: превышение освобождает захват (возврат в
//     in_progress) и возвращает ErrTimeLimitExceeded;
//  5. оценка (чистая функция grading.Grade);
//  6. единственная финализирующая запись со status=completed;
//  7. best-effort уведомление агрегата прогресса: его ошибка логируется
//     и проглатывается, сдача из-за неё не падает.
//
// Ни одна ветвь не оставляет попытку в processing.
func (s *AttemptService) SubmitAttempt(studentID, quizID, attemptID uint, submitted []grading.SubmittedAnswer) (*SubmitResult, error) {
	quiz, err := s.loadQuizWithQuestions(quizID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attemptRepo.GetByID(attemptID)
	if err != nil {
		return nil, err
	}

	if !attempt.IsOwnedBy(studentID, quizID) {
		return nil, ErrNotAttemptOwner
	}

	// Единственная конкурентно-критичная операция: кто не захватил — опоздал
	claimed, err := s.attemptRepo.ClaimForProcessing(attemptID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadySubmitted
	}

	completedAt := s.now()
	timeSpent := int(completedAt.Sub(attempt.StartedAt).Seconds())

	if quiz.HasTimeLimit() && timeSpent > quiz.TimeLimitSeconds() {
		// Освобождаем захват без финализации: попытка остаётся записью,
		// а не пропадает молча
		if relErr := s.attemptRepo.ReleaseProcessing(attemptID); relErr != nil {
			log.Printf("[AttemptService] Не удалось вернуть попытку #%d в in_progress: %v", attemptID, relErr)
		}
		return nil, ErrTimeLimitExceeded
	}

	result := grading.Grade(quiz.Questions, submitted, quiz.PassingScore)

	fin := repository.AttemptFinalization{
		Answers:      result.Answers,
		Score:        result.Score,
		PointsEarned: result.PointsEarned,
		Passed:       result.Passed,
		CompletedAt:  completedAt,
		TimeSpentSec: timeSpent,
	}
	if err := s.attemptRepo.Finalize(attemptID, fin); err != nil {
		// Финализация не удалась — освобождаем захват, попытку можно сдать повторно
		if relErr := s.attemptRepo.ReleaseProcessing(attemptID); relErr != nil {
			log.Printf("[AttemptService] Не удалось вернуть попытку #%d в in_progress после сбоя финализации: %v", attemptID, relErr)
		}
		return nil, fmt.Errorf("failed to finalize attempt: %w", err)
	}

	log.Printf("[AttemptService] Попытка #%d теста #%d завершена: score=%d, passed=%t, time_spent=%ds",
		attemptID, quizID, result.Score, result.Passed, timeSpent)

	s.reportProgress(studentID, quiz.CourseID, quizID, result.Score, result.Passed)

	return &SubmitResult{
		Score:        result.Score,
		PointsEarned: result.PointsEarned,
		TotalPoints:  result.TotalPoints,
		Passed:       result.Passed,
		TimeSpentSec: timeSpent,
		NeedsReview:  result.NeedsReview,
	}, nil
}

// GetResults возвращает сводку теста и историю попыток студента
func (s *AttemptService) GetResults(studentID, quizID uint) (*QuizResults, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}

	if err := s.eligibility.CheckQuizAccess(studentID, quiz); err != nil {
		// Пререквизиты не скрывают уже сданные результаты
		if !errors.Is(err, ErrPrerequisitesNotMet) {
			return nil, err
		}
	}

	attempts, err := s.attemptRepo.GetByStudentAndQuiz(studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	return &QuizResults{Quiz: quiz, Attempts: attempts}, nil
}

// GetQuizForStudent возвращает активный тест с вопросами (правильные ответы
// вырезаются на уровне DTO) и попытки студента
func (s *AttemptService) GetQuizForStudent(studentID, quizID uint) (*QuizResults, error) {
	quiz, err := s.loadActiveQuizWithQuestions(quizID)
	if err != nil {
		return nil, err
	}

	if err := s.eligibility.CheckQuizAccess(studentID, quiz); err != nil {
		return nil, err
	}

	attempts, err := s.attemptRepo.GetByStudentAndQuiz(studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	return &QuizResults{Quiz: quiz, Attempts: attempts}, nil
}

// CourseQuiz представляет тест курса со сводкой попыток студента
type CourseQuiz struct {
	Quiz     entity.Quiz
	Attempts []entity.QuizAttempt
}

// ListQuizzesByCourse возвращает активные тесты купленного курса
// вместе с попытками студента по каждому из них
func (s *AttemptService) ListQuizzesByCourse(studentID, courseID uint) ([]CourseQuiz, error) {
	purchased, err := s.eligibility.enrollmentRepo.HasPurchased(studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !purchased {
		return nil, ErrNotPurchased
	}

	quizzes, err := s.quizRepo.GetActiveByCourse(courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get course quizzes: %w", err)
	}

	result := make([]CourseQuiz, 0, len(quizzes))
	for _, quiz := range quizzes {
		attempts, err := s.attemptRepo.GetByStudentAndQuiz(studentID, quiz.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get attempts for quiz #%d: %w", quiz.ID, err)
		}
		result = append(result, CourseQuiz{Quiz: quiz, Attempts: attempts})
	}

	return result, nil
}

// AnswerReview представляет вердикт преподавателя по одному ответу
type AnswerReview struct {
	QuestionID   uint
	IsCorrect    bool
	PointsEarned int
}

// ReviewAttempt применяет ручную проверку к NeedsReview-ответам завершённой
// попытки и ретроактивно пересчитывает score/passed. Доступно только
// преподавателю-владельцу теста.
func (s *AttemptService) ReviewAttempt(instructorID, attemptID uint, reviews []AnswerReview) (*SubmitResult, error) {
	attempt, err := s.attemptRepo.GetByID(attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsCompleted() {
		return nil, ErrAttemptNotCompleted
	}

	quiz, err := s.loadQuizWithQuestions(attempt.QuizID)
	if err != nil {
		return nil, err
	}
	if quiz.InstructorID != instructorID {
		return nil, ErrNotQuizOwner
	}

	points := make(map[uint]int, len(quiz.Questions))
	for _, q := range quiz.Questions {
		points[q.ID] = q.Points
	}

	byQuestion := make(map[uint]AnswerReview, len(reviews))
	for _, rv := range reviews {
		maxPoints, ok := points[rv.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question #%d", apperrors.ErrValidation, rv.QuestionID)
		}
		if rv.PointsEarned < 0 || rv.PointsEarned > maxPoints {
			return nil, fmt.Errorf("%w: points for question #%d must be within 0..%d",
				apperrors.ErrValidation, rv.QuestionID, maxPoints)
		}
		byQuestion[rv.QuestionID] = rv
	}

	answers := attempt.Answers
	for i, ans := range answers {
		if !ans.NeedsReview {
			continue
		}
		rv, ok := byQuestion[ans.QuestionID]
		if !ok {
			continue
		}
		verdict := rv.IsCorrect
		answers[i].IsCorrect = &verdict
		answers[i].PointsEarned = rv.PointsEarned
	}

	result := grading.Regrade(answers, attempt.TotalPoints, quiz.PassingScore)

	// Optimistic-защита read-modify-write: запись проходит только если попытка
	// не менялась с момента чтения, иначе конкурирующая проверка успела раньше
	ok, err := s.attemptRepo.UpdateReviewedAnswers(attemptID, result.Answers, result.Score, result.PointsEarned, result.Passed, attempt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save reviewed attempt: %w", err)
	}
	if !ok {
		return nil, ErrReviewConflict
	}

	log.Printf("[AttemptService] Попытка #%d проверена преподавателем #%d: score=%d, passed=%t",
		attemptID, instructorID, result.Score, result.Passed)

	if !result.NeedsReview {
		s.reportProgress(attempt.StudentID, attempt.CourseID, attempt.QuizID, result.Score, result.Passed)
	}

	return &SubmitResult{
		Score:        result.Score,
		PointsEarned: result.PointsEarned,
		TotalPoints:  result.TotalPoints,
		Passed:       result.Passed,
		TimeSpentSec: attempt.TimeSpentSec,
		NeedsReview:  result.NeedsReview,
	}, nil
}

// reportProgress - best-effort уведомление агрегата прогресса.
// Ошибка логируется и проглатывается: запись попытки — источник истины,
// и сдача не должна выглядеть неудачной из-за сбоя вторичного агрегата.
func (s *AttemptService) reportProgress(studentID, courseID, quizID uint, score int, passed bool) {
	if s.progress == nil {
		return
	}
	if err := s.progress.ReportQuizResult(studentID, courseID, quizID, score, passed); err != nil {
		log.Printf("[AttemptService] Ошибка при обновлении прогресса курса #%d для студента #%d: %v",
			courseID, studentID, err)
	}
}

// loadActiveQuiz возвращает тест с вопросами; неактивный тест для студента
// неотличим от несуществующего
func (s *AttemptService) loadActiveQuiz(quizID uint) (*entity.Quiz, error) {
	return s.loadActiveQuizWithQuestions(quizID)
}

func (s *AttemptService) loadActiveQuizWithQuestions(quizID uint) (*entity.Quiz, error) {
	quiz, err := s.loadQuizWithQuestions(quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsActive {
		return nil, apperrors.ErrNotFound
	}
	return quiz, nil
}

// loadQuizWithQuestions читает тест с вопросами через кеш.
// Кеш-промахи и сбои кеша не фатальны: источник истины — БД.
func (s *AttemptService) loadQuizWithQuestions(quizID uint) (*entity.Quiz, error) {
	if s.cacheRepo != nil {
		var cached quizCacheEntry
		if err := s.cacheRepo.GetJSON(quizCacheKey(quizID), &cached); err == nil && cached.Quiz != nil {
			return cached.restore(), nil
		}
	}

	quiz, err := s.quizRepo.GetWithQuestions(quizID)
	if err != nil {
		return nil, err
	}

	if s.cacheRepo != nil {
		if err := s.cacheRepo.SetJSON(quizCacheKey(quizID), newQuizCacheEntry(quiz), quizCacheTTL); err != nil {
			log.Printf("[AttemptService] Не удалось закешировать тест #%d: %v", quizID, err)
		}
	}

	return quiz, nil
}
