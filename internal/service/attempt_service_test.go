package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/lms-api/internal/domain/entity"
	"github.com/yourusername/lms-api/internal/domain/repository"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
	"github.com/yourusername/lms-api/internal/service/grading"
)

// ============================================================================
// Моки репозиториев (общие для тестов пакета service)
// ============================================================================

func uintPtr(v uint) *uint { return &v }

// MockQuizRepository реализует repository.QuizRepository
type MockQuizRepository struct {
	mock.Mock
}

func (m *MockQuizRepository) Create(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepository) GetByID(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetWithQuestions(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetActiveByCourse(courseID uint) ([]entity.Quiz, error) {
	args := m.Called(courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetByCourse(courseID uint) ([]entity.Quiz, error) {
	args := m.Called(courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) Update(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepository) SetActive(quizID uint, active bool) error {
	args := m.Called(quizID, active)
	return args.Error(0)
}

func (m *MockQuizRepository) Delete(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockAttemptRepository реализует repository.AttemptRepository
type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(attempt *entity.QuizAttempt) error {
	args := m.Called(attempt)
	return args.Error(0)
}

func (m *MockAttemptRepository) GetByID(id uint) (*entity.QuizAttempt, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.QuizAttempt), args.Error(1)
}

func (m *MockAttemptRepository) CountByStudentAndQuiz(studentID, quizID uint) (int64, error) {
	args := m.Called(studentID, quizID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAttemptRepository) GetByStudentAndQuiz(studentID, quizID uint) ([]entity.QuizAttempt, error) {
	args := m.Called(studentID, quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.QuizAttempt), args.Error(1)
}

func (m *MockAttemptRepository) GetByQuiz(quizID uint) ([]entity.QuizAttempt, error) {
	args := m.Called(quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.QuizAttempt), args.Error(1)
}

func (m *MockAttemptRepository) CountByQuiz(quizID uint) (int64, error) {
	args := m.Called(quizID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAttemptRepository) ClaimForProcessing(attemptID uint) (bool, error) {
	args := m.Called(attemptID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAttemptRepository) ReleaseProcessing(attemptID uint) error {
	args := m.Called(attemptID)
	return args.Error(0)
}

func (m *MockAttemptRepository) Finalize(attemptID uint, fin repository.AttemptFinalization) error {
	args := m.Called(attemptID, fin)
	return args.Error(0)
}

func (m *MockAttemptRepository) UpdateReviewedAnswers(attemptID uint, answers entity.AttemptAnswers, score, pointsEarned int, passed bool, expectedUpdatedAt time.Time) (bool, error) {
	args := m.Called(attemptID, answers, score, pointsEarned, passed, expectedUpdatedAt)
	return args.Bool(0), args.Error(1)
}

// MockEnrollmentRepository реализует repository.EnrollmentRepository
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) HasPurchased(studentID, courseID uint) (bool, error) {
	args := m.Called(studentID, courseID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEnrollmentRepository) Create(enrollment *entity.Enrollment) error {
	args := m.Called(enrollment)
	return args.Error(0)
}

// MockProgressRepository реализует repository.ProgressRepository
type MockProgressRepository struct {
	mock.Mock
}

func (m *MockProgressRepository) Get(studentID, courseID uint) (*entity.CourseProgress, error) {
	args := m.Called(studentID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.CourseProgress), args.Error(1)
}

func (m *MockProgressRepository) Upsert(progress *entity.CourseProgress) error {
	args := m.Called(progress)
	return args.Error(0)
}

// recordingSink фиксирует вызовы ProgressSink; может имитировать сбой
type recordingSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *recordingSink) ReportQuizResult(studentID, courseID, quizID uint, score int, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *recordingSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// jsonCache - in-memory кеш с тем же JSON round-trip, что и Redis-реализация
// (SetJSON сериализует, GetJSON десериализует). Ловит потерю полей,
// скрытых от клиентского JSON.
type jsonCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newJSONCache() *jsonCache {
	return &jsonCache{data: make(map[string][]byte)}
}

func (c *jsonCache) Set(key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = []byte(fmt.Sprint(value))
	return nil
}

func (c *jsonCache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return string(b), nil
}

func (c *jsonCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *jsonCache) SetJSON(key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *jsonCache) GetJSON(key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return apperrors.ErrNotFound
	}
	return json.Unmarshal(b, dest)
}

// ============================================================================
// Вспомогательные фикстуры
// ============================================================================

// testQuiz возвращает активный финальный тест с двумя вопросами (3 балла)
func testQuiz() *entity.Quiz {
	return &entity.Quiz{
		ID:              10,
		CourseID:        5,
		InstructorID:    100,
		Title:           "Итоговый тест",
		PassingScore:    70,
		TimeLimitMin:    0,
		AttemptsAllowed: 3,
		IsActive:        true,
		Questions: []entity.Question{
			{ID: 1, QuizID: 10, Type: entity.QuestionTypeMultipleChoice,
				Options: entity.StringArray{"a", "b"}, CorrectAnswer: "a", Points: 1},
			{ID: 2, QuizID: 10, Type: entity.QuestionTypeShortAnswer,
				CorrectAnswer: "Go", Points: 2},
		},
	}
}

func newTestAttemptService(
	quizRepo *MockQuizRepository,
	attemptRepo *MockAttemptRepository,
	enrollmentRepo *MockEnrollmentRepository,
	progressRepo *MockProgressRepository,
	sink ProgressSink,
) *AttemptService {
	eligibility := NewEligibilityChecker(enrollmentRepo, progressRepo, attemptRepo)
	return NewAttemptService(quizRepo, attemptRepo, nil, eligibility, sink)
}

// ============================================================================
// StartAttempt
// ============================================================================

func TestAttemptService_StartAttempt_Success(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	quiz := testQuiz()

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	mockAttemptRepo.On("CountByStudentAndQuiz", uint(1), uint(10)).Return(int64(1), nil)
	mockAttemptRepo.On("Create", mock.AnythingOfType("*entity.QuizAttempt")).
		Run(func(args mock.Arguments) {
			args.Get(0).(*entity.QuizAttempt).ID = 42
		}).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	// Act
	result, err := svc.StartAttempt(1, 10)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(42), result.AttemptID)
	assert.Equal(t, 2, result.AttemptNumber, "номер попытки = число существующих + 1")
	assert.Equal(t, 0, result.TimeLimitMin)
	mockAttemptRepo.AssertExpectations(t)
}

func TestAttemptService_StartAttempt_NotPurchased(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(false, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.StartAttempt(1, 10)

	assert.ErrorIs(t, err, ErrNotPurchased)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "Create")
}

func TestAttemptService_StartAttempt_LessonQuizPrerequisite(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz := testQuiz()
	quiz.LectureID = uintPtr(7) // урочный тест: нужна просмотренная лекция #7

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	// Прогресса ещё нет: ни одна лекция не просмотрена
	mockProgressRepo.On("Get", uint(1), uint(5)).Return(nil, apperrors.ErrNotFound)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.StartAttempt(1, 10)

	assert.ErrorIs(t, err, ErrPrerequisitesNotMet)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "Create")
}

func TestAttemptService_StartAttempt_AttemptLimitReached(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	// Лимит 3, попыток уже 3
	mockAttemptRepo.On("CountByStudentAndQuiz", uint(1), uint(10)).Return(int64(3), nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.StartAttempt(1, 10)

	assert.ErrorIs(t, err, ErrAttemptLimitReached)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "Create")
}

func TestAttemptService_StartAttempt_InactiveQuizHidden(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz := testQuiz()
	quiz.IsActive = false

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	// Неактивный тест для студента неотличим от несуществующего
	result, err := svc.StartAttempt(1, 10)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, result)
}

func TestAttemptService_StartAttempt_ConcurrentDuplicate(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	mockAttemptRepo.On("CountByStudentAndQuiz", uint(1), uint(10)).Return(int64(0), nil)
	// Конкурирующий старт успел занять номер: уникальный индекс сработал
	mockAttemptRepo.On("Create", mock.AnythingOfType("*entity.QuizAttempt")).
		Return(repository.ErrDuplicateAttempt)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.StartAttempt(1, 10)

	assert.ErrorIs(t, err, ErrConcurrentStart)
	assert.Nil(t, result)
}

// ============================================================================
// SubmitAttempt
// ============================================================================

func inProgressAttempt() *entity.QuizAttempt {
	return &entity.QuizAttempt{
		ID:            42,
		QuizID:        10,
		StudentID:     1,
		CourseID:      5,
		AttemptNumber: 1,
		Status:        entity.AttemptStatusInProgress,
		TotalPoints:   3,
		StartedAt:     time.Now().Add(-30 * time.Second),
	}
}

func TestAttemptService_SubmitAttempt_Success(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{}

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, sink)

	// Act
	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{
		{QuestionID: 1, Answer: "a"},
		{QuestionID: 2, Answer: "Go"},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, 3, result.PointsEarned)
	assert.True(t, result.Passed)
	assert.False(t, result.NeedsReview)
	assert.Equal(t, 1, sink.callCount(), "результат должен уйти в агрегат прогресса")
	mockAttemptRepo.AssertExpectations(t)
}

func TestAttemptService_SubmitAttempt_NotOwner(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	// Чужой студент пытается сдать попытку #42
	result, err := svc.SubmitAttempt(2, 10, 42, nil)

	assert.ErrorIs(t, err, ErrNotAttemptOwner)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "ClaimForProcessing")
}

func TestAttemptService_SubmitAttempt_AlreadySubmitted(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)
	// CAS проигран: попытка уже completed или захвачена другой сдачей
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(false, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.SubmitAttempt(1, 10, 42, nil)

	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "Finalize")
}

func TestAttemptService_SubmitAttempt_TimeLimitExceeded(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{}

	quiz := testQuiz()
	quiz.TimeLimitMin = 1

	attempt := inProgressAttempt()
	attempt.StartedAt = time.Now().Add(-2 * time.Minute) // лимит давно истёк

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	// Захват должен быть освобождён, попытка не финализируется
	mockAttemptRepo.On("ReleaseProcessing", uint(42)).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, sink)

	result, err := svc.SubmitAttempt(1, 10, 42, nil)

	assert.ErrorIs(t, err, ErrTimeLimitExceeded)
	assert.Nil(t, result)
	assert.Equal(t, 0, sink.callCount())
	mockAttemptRepo.AssertNotCalled(t, "Finalize")
	mockAttemptRepo.AssertExpectations(t)
}

func TestAttemptService_SubmitAttempt_WithinTimeLimit(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz := testQuiz()
	quiz.TimeLimitMin = 1

	attempt := inProgressAttempt()
	attempt.StartedAt = time.Now().Add(-30 * time.Second) // в пределах лимита

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{{QuestionID: 1, Answer: "a"}})

	require.NoError(t, err)
	assert.LessOrEqual(t, result.TimeSpentSec, 60)
	mockAttemptRepo.AssertNotCalled(t, "ReleaseProcessing")
}

func TestAttemptService_SubmitAttempt_ProgressFailureSwallowed(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{err: errors.New("progress store down")}

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, sink)

	// Сбой вторичного агрегата не должен ломать сдачу
	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{{QuestionID: 1, Answer: "a"}})

	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 1, sink.callCount())
}

func TestAttemptService_SubmitAttempt_CacheHitKeepsCorrectAnswers(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	cache := newJSONCache()

	// Тест читается из БД ровно один раз: сдача идёт через кеш
	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil).Once()
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	mockAttemptRepo.On("CountByStudentAndQuiz", uint(1), uint(10)).Return(int64(0), nil)
	mockAttemptRepo.On("Create", mock.AnythingOfType("*entity.QuizAttempt")).
		Run(func(args mock.Arguments) {
			args.Get(0).(*entity.QuizAttempt).ID = 42
		}).Return(nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	eligibility := NewEligibilityChecker(mockEnrollmentRepo, mockProgressRepo, mockAttemptRepo)
	svc := NewAttemptService(mockQuizRepo, mockAttemptRepo, cache, eligibility, nil)

	// Act: старт прогревает кеш, сдача оценивается по кешированному тесту
	_, err := svc.StartAttempt(1, 10)
	require.NoError(t, err)

	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{
		{QuestionID: 1, Answer: "a"},
		{QuestionID: 2, Answer: "Go"},
	})

	// Assert: эталонные ответы переживают JSON round-trip кеша
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, 3, result.PointsEarned)
	assert.True(t, result.Passed)
	mockQuizRepo.AssertNumberOfCalls(t, "GetWithQuestions", 1)
}

func TestAttemptService_SubmitAttempt_CachedQuizRejectsEmptyAnswers(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	cache := newJSONCache()

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil).Once()
	mockEnrollmentRepo.On("HasPurchased", uint(1), uint(5)).Return(true, nil)
	mockAttemptRepo.On("CountByStudentAndQuiz", uint(1), uint(10)).Return(int64(0), nil)
	mockAttemptRepo.On("Create", mock.AnythingOfType("*entity.QuizAttempt")).
		Run(func(args mock.Arguments) {
			args.Get(0).(*entity.QuizAttempt).ID = 42
		}).Return(nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	eligibility := NewEligibilityChecker(mockEnrollmentRepo, mockProgressRepo, mockAttemptRepo)
	svc := NewAttemptService(mockQuizRepo, mockAttemptRepo, cache, eligibility, nil)

	_, err := svc.StartAttempt(1, 10)
	require.NoError(t, err)

	// Пустые строки не должны совпадать с эталонами после кеш-хита
	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{
		{QuestionID: 1, Answer: ""},
		{QuestionID: 2, Answer: ""},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, 0, result.PointsEarned)
	assert.False(t, result.Passed)
}

func TestAttemptService_SubmitAttempt_ExactlyAtTimeLimit(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz := testQuiz()
	quiz.TimeLimitMin = 1

	started := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	attempt := inProgressAttempt()
	attempt.StartedAt = started

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("Finalize", uint(42), mock.AnythingOfType("repository.AttemptFinalization")).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)
	// Сдача ровно на границе лимита
	svc.now = func() time.Time { return started.Add(60 * time.Second) }

	result, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{{QuestionID: 1, Answer: "a"}})

	require.NoError(t, err, "сдача ровно в timeLimit*60 секунд принимается")
	assert.Equal(t, 60, result.TimeSpentSec)
	mockAttemptRepo.AssertNotCalled(t, "ReleaseProcessing")
}

func TestAttemptService_SubmitAttempt_OneSecondOverTimeLimit(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz := testQuiz()
	quiz.TimeLimitMin = 1

	started := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	attempt := inProgressAttempt()
	attempt.StartedAt = started

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockAttemptRepo.On("ClaimForProcessing", uint(42)).Return(true, nil)
	mockAttemptRepo.On("ReleaseProcessing", uint(42)).Return(nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)
	// Одна секунда сверх лимита
	svc.now = func() time.Time { return started.Add(61 * time.Second) }

	result, err := svc.SubmitAttempt(1, 10, 42, nil)

	assert.ErrorIs(t, err, ErrTimeLimitExceeded)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "Finalize")
	mockAttemptRepo.AssertCalled(t, "ReleaseProcessing", uint(42))
}

// ============================================================================
// Конкурирующие сдачи: ровно один победитель
// ============================================================================

// casAttemptStore - минимальное in-memory хранилище попыток с тем же
// атомарным переходом статусов, что и условный UPDATE в Postgres
type casAttemptStore struct {
	MockAttemptRepository
	mu      sync.Mutex
	attempt *entity.QuizAttempt
}

func (s *casAttemptStore) GetByID(id uint) (*entity.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.attempt
	return &copied, nil
}

func (s *casAttemptStore) ClaimForProcessing(attemptID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt.Status != entity.AttemptStatusInProgress {
		return false, nil
	}
	s.attempt.Status = entity.AttemptStatusProcessing
	return true, nil
}

func (s *casAttemptStore) Finalize(attemptID uint, fin repository.AttemptFinalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt.Status = entity.AttemptStatusCompleted
	s.attempt.Answers = fin.Answers
	s.attempt.Score = fin.Score
	s.attempt.PointsEarned = fin.PointsEarned
	s.attempt.Passed = fin.Passed
	s.attempt.TimeSpentSec = fin.TimeSpentSec
	return nil
}

func TestAttemptService_SubmitAttempt_ConcurrentExactlyOneWinner(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{}

	store := &casAttemptStore{attempt: inProgressAttempt()}

	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(testQuiz(), nil)

	eligibility := NewEligibilityChecker(mockEnrollmentRepo, mockProgressRepo, store)
	svc := NewAttemptService(mockQuizRepo, store, nil, eligibility, sink)

	const workers = 16
	var wg sync.WaitGroup
	var successes, conflicts int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitAttempt(1, 10, 42, []grading.SubmittedAnswer{{QuestionID: 1, Answer: "a"}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadySubmitted):
				conflicts++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes, "ровно одна сдача должна победить")
	assert.Equal(t, int64(workers-1), conflicts, "остальные получают конфликт")
	assert.Equal(t, entity.AttemptStatusCompleted, store.attempt.Status)
	assert.Equal(t, 1, sink.callCount(), "прогресс обновляется ровно один раз")
}

// ============================================================================
// ReviewAttempt
// ============================================================================

func reviewableQuizAndAttempt() (*entity.Quiz, *entity.QuizAttempt) {
	quiz := testQuiz()
	quiz.Questions = append(quiz.Questions, entity.Question{
		ID: 3, QuizID: 10, Type: entity.QuestionTypeBroadText, Points: 2,
	})

	correct := true
	completedAt := time.Now().Add(-time.Hour)
	attempt := &entity.QuizAttempt{
		ID:            42,
		QuizID:        10,
		StudentID:     1,
		CourseID:      5,
		AttemptNumber: 1,
		Status:        entity.AttemptStatusCompleted,
		TotalPoints:   5,
		Answers: entity.AttemptAnswers{
			{QuestionID: 1, Answer: "a", IsCorrect: &correct, PointsEarned: 1},
			{QuestionID: 2, Answer: "Go", IsCorrect: &correct, PointsEarned: 2},
			{QuestionID: 3, Answer: "развёрнутый ответ", IsCorrect: nil, PointsEarned: 0, NeedsReview: true},
		},
		StartedAt:   time.Now().Add(-2 * time.Hour),
		CompletedAt: &completedAt,
	}
	return quiz, attempt
}

func TestAttemptService_ReviewAttempt_Success(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{}

	quiz, attempt := reviewableQuizAndAttempt()

	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	mockAttemptRepo.On("UpdateReviewedAnswers", uint(42), mock.AnythingOfType("entity.AttemptAnswers"),
		100, 5, true, mock.AnythingOfType("time.Time")).Return(true, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, sink)

	// Преподаватель #100 засчитывает развёрнутый ответ на полный балл
	result, err := svc.ReviewAttempt(100, 42, []AnswerReview{
		{QuestionID: 3, IsCorrect: true, PointsEarned: 2},
	})

	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.True(t, result.Passed)
	assert.False(t, result.NeedsReview)
	assert.Equal(t, 1, sink.callCount(), "после полной проверки итог уходит в прогресс")
	mockAttemptRepo.AssertExpectations(t)
}

func TestAttemptService_ReviewAttempt_NotQuizOwner(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz, attempt := reviewableQuizAndAttempt()

	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.ReviewAttempt(999, 42, []AnswerReview{{QuestionID: 3, IsCorrect: true, PointsEarned: 2}})

	assert.ErrorIs(t, err, ErrNotQuizOwner)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "UpdateReviewedAnswers")
}

func TestAttemptService_ReviewAttempt_NotCompleted(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	mockAttemptRepo.On("GetByID", uint(42)).Return(inProgressAttempt(), nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	result, err := svc.ReviewAttempt(100, 42, []AnswerReview{{QuestionID: 1, IsCorrect: true, PointsEarned: 1}})

	assert.ErrorIs(t, err, ErrAttemptNotCompleted)
	assert.Nil(t, result)
}

func TestAttemptService_ReviewAttempt_ConcurrentReviewConflict(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)
	sink := &recordingSink{}

	quiz, attempt := reviewableQuizAndAttempt()

	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)
	// Условная запись не прошла: попытка изменилась между чтением и записью
	mockAttemptRepo.On("UpdateReviewedAnswers", uint(42), mock.AnythingOfType("entity.AttemptAnswers"),
		100, 5, true, mock.AnythingOfType("time.Time")).Return(false, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, sink)

	result, err := svc.ReviewAttempt(100, 42, []AnswerReview{
		{QuestionID: 3, IsCorrect: true, PointsEarned: 2},
	})

	assert.ErrorIs(t, err, ErrReviewConflict)
	assert.Nil(t, result)
	assert.Equal(t, 0, sink.callCount(), "проигравшая проверка не трогает прогресс")
}

func TestAttemptService_ReviewAttempt_PointsOutOfRange(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockEnrollmentRepo := new(MockEnrollmentRepository)
	mockProgressRepo := new(MockProgressRepository)

	quiz, attempt := reviewableQuizAndAttempt()

	mockAttemptRepo.On("GetByID", uint(42)).Return(attempt, nil)
	mockQuizRepo.On("GetWithQuestions", uint(10)).Return(quiz, nil)

	svc := newTestAttemptService(mockQuizRepo, mockAttemptRepo, mockEnrollmentRepo, mockProgressRepo, nil)

	// За вопрос #3 максимум 2 балла
	result, err := svc.ReviewAttempt(100, 42, []AnswerReview{{QuestionID: 3, IsCorrect: true, PointsEarned: 5}})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Nil(t, result)
	mockAttemptRepo.AssertNotCalled(t, "UpdateReviewedAnswers")
}
