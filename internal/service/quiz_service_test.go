package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/lms-api/internal/domain/entity"
	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// MockQuestionRepository реализует repository.QuestionRepository
type MockQuestionRepository struct {
	mock.Mock
}

func (m *MockQuestionRepository) CreateBatch(questions []entity.Question) error {
	args := m.Called(questions)
	return args.Error(0)
}

func (m *MockQuestionRepository) GetByQuizID(quizID uint) ([]entity.Question, error) {
	args := m.Called(quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Question), args.Error(1)
}

func (m *MockQuestionRepository) Delete(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockUserRepository реализует repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *entity.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id uint) (*entity.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(email string) (*entity.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func newTestQuizService(
	quizRepo *MockQuizRepository,
	questionRepo *MockQuestionRepository,
	attemptRepo *MockAttemptRepository,
	userRepo *MockUserRepository,
) *QuizService {
	return NewQuizService(quizRepo, questionRepo, attemptRepo, userRepo, nil)
}

func validQuizInput() CreateQuizInput {
	return CreateQuizInput{
		CourseID:        5,
		Title:           "Итоговый тест",
		Description:     "Проверка знаний по курсу",
		PassingScore:    70,
		TimeLimitMin:    30,
		AttemptsAllowed: 3,
	}
}

func TestQuizService_CreateQuiz_Success(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	mockQuizRepo.On("Create", mock.AnythingOfType("*entity.Quiz")).
		Run(func(args mock.Arguments) {
			args.Get(0).(*entity.Quiz).ID = 10
		}).Return(nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	// Act
	quiz, err := svc.CreateQuiz(100, validQuizInput())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(10), quiz.ID)
	assert.Equal(t, uint(100), quiz.InstructorID)
	assert.False(t, quiz.IsActive, "новый тест создаётся скрытым от студентов")
	mockQuizRepo.AssertExpectations(t)
}

func TestQuizService_CreateQuiz_InvalidInput(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	cases := []struct {
		name   string
		mutate func(*CreateQuizInput)
	}{
		{"пустой заголовок", func(in *CreateQuizInput) { in.Title = "" }},
		{"проходной балл выше 100", func(in *CreateQuizInput) { in.PassingScore = 101 }},
		{"отрицательный лимит времени", func(in *CreateQuizInput) { in.TimeLimitMin = -1 }},
		{"ноль попыток", func(in *CreateQuizInput) { in.AttemptsAllowed = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validQuizInput()
			tc.mutate(&input)

			quiz, err := svc.CreateQuiz(100, input)

			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Nil(t, quiz)
		})
	}

	mockQuizRepo.AssertNotCalled(t, "Create")
}

func TestQuizService_UpdateQuiz_NotOwner(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	quiz, err := svc.UpdateQuiz(999, 10, validQuizInput())

	assert.ErrorIs(t, err, ErrNotQuizOwner)
	assert.Nil(t, quiz)
	mockQuizRepo.AssertNotCalled(t, "Update")
}

func TestQuizService_SetQuizActive_NoQuestions(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockQuestionRepo.On("GetByQuizID", uint(10)).Return([]entity.Question{}, nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	// Тест без вопросов активировать нельзя
	err := svc.SetQuizActive(100, 10, true)

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	mockQuizRepo.AssertNotCalled(t, "SetActive")
}

func TestQuizService_SetQuizActive_DeactivateAlwaysAllowed(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест", IsActive: true}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockQuizRepo.On("SetActive", uint(10), false).Return(nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	err := svc.SetQuizActive(100, 10, false)

	require.NoError(t, err)
	// Деактивация не требует проверки вопросов
	mockQuestionRepo.AssertNotCalled(t, "GetByQuizID")
	mockQuizRepo.AssertExpectations(t)
}

func TestQuizService_DeleteQuiz_HasAttempts(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockAttemptRepo.On("CountByQuiz", uint(10)).Return(int64(4), nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	// История попыток студентов не должна пропадать
	err := svc.DeleteQuiz(100, 10)

	assert.ErrorIs(t, err, ErrQuizHasAttempts)
	mockQuizRepo.AssertNotCalled(t, "Delete")
}

func TestQuizService_DeleteQuiz_Success(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockAttemptRepo.On("CountByQuiz", uint(10)).Return(int64(0), nil)
	mockQuizRepo.On("Delete", uint(10)).Return(nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	err := svc.DeleteQuiz(100, 10)

	require.NoError(t, err)
	mockQuizRepo.AssertExpectations(t)
}

func TestQuizService_AddQuestions_PositionsContinue(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	// Два вопроса уже есть: новые должны получить позиции 3 и 4
	mockQuestionRepo.On("GetByQuizID", uint(10)).Return([]entity.Question{
		{ID: 1, Position: 1}, {ID: 2, Position: 2},
	}, nil)
	mockQuestionRepo.On("CreateBatch", mock.AnythingOfType("[]entity.Question")).Return(nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	questions, err := svc.AddQuestions(100, 10, []QuestionInput{
		{Type: entity.QuestionTypeTrueFalse, Prompt: "Go компилируемый язык?",
			Options: []string{"Да", "Нет"}, CorrectAnswer: "Да", Points: 1},
		{Type: entity.QuestionTypeBroadText, Prompt: "Опишите модель памяти Go", Points: 5},
	})

	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, 3, questions[0].Position)
	assert.Equal(t, 4, questions[1].Position)
	mockQuestionRepo.AssertExpectations(t)
}

func TestQuizService_AddQuestions_InvalidQuestion(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockQuestionRepo.On("GetByQuizID", uint(10)).Return([]entity.Question{}, nil)

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	cases := []struct {
		name  string
		input QuestionInput
	}{
		{"неизвестный тип", QuestionInput{
			Type: "matching", Prompt: "?", Points: 1}},
		{"выбор без вариантов", QuestionInput{
			Type: entity.QuestionTypeMultipleChoice, Prompt: "?", CorrectAnswer: "a", Points: 1}},
		{"правильный ответ вне вариантов", QuestionInput{
			Type: entity.QuestionTypeMultipleChoice, Prompt: "?",
			Options: []string{"a", "b"}, CorrectAnswer: "c", Points: 1}},
		{"свободный ответ с вариантами", QuestionInput{
			Type: entity.QuestionTypeEssay, Prompt: "?",
			Options: []string{"a", "b"}, Points: 1}},
		{"короткий ответ без эталона", QuestionInput{
			Type: entity.QuestionTypeShortAnswer, Prompt: "?", Points: 1}},
		{"нулевые баллы", QuestionInput{
			Type: entity.QuestionTypeTrueFalse, Prompt: "?",
			Options: []string{"Да", "Нет"}, CorrectAnswer: "Да", Points: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			questions, err := svc.AddQuestions(100, 10, []QuestionInput{tc.input})

			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Nil(t, questions)
		})
	}

	mockQuestionRepo.AssertNotCalled(t, "CreateBatch")
}

func TestQuizService_ExportAttempts_EnrichesStudents(t *testing.T) {
	mockQuizRepo := new(MockQuizRepository)
	mockQuestionRepo := new(MockQuestionRepository)
	mockAttemptRepo := new(MockAttemptRepository)
	mockUserRepo := new(MockUserRepository)

	existing := &entity.Quiz{ID: 10, CourseID: 5, InstructorID: 100, Title: "Итоговый тест"}
	mockQuizRepo.On("GetByID", uint(10)).Return(existing, nil)
	mockAttemptRepo.On("GetByQuiz", uint(10)).Return([]entity.QuizAttempt{
		{ID: 1, QuizID: 10, StudentID: 1, AttemptNumber: 1, Status: entity.AttemptStatusCompleted, Score: 80, Passed: true},
		{ID: 2, QuizID: 10, StudentID: 1, AttemptNumber: 2, Status: entity.AttemptStatusCompleted, Score: 95, Passed: true},
		{ID: 3, QuizID: 10, StudentID: 2, AttemptNumber: 1, Status: entity.AttemptStatusInProgress},
	}, nil)

	mockUserRepo.On("GetByID", uint(1)).Return(&entity.User{ID: 1, Username: "ivan", Email: "ivan@example.com"}, nil).Once()
	// Удалённый аккаунт не ломает выгрузку
	mockUserRepo.On("GetByID", uint(2)).Return(nil, apperrors.ErrNotFound).Once()

	svc := newTestQuizService(mockQuizRepo, mockQuestionRepo, mockAttemptRepo, mockUserRepo)

	quiz, rows, err := svc.ExportAttempts(100, 10)

	require.NoError(t, err)
	assert.Equal(t, uint(10), quiz.ID)
	require.Len(t, rows, 3)
	assert.Equal(t, "ivan", rows[0].Username)
	assert.Equal(t, "ivan", rows[1].Username, "студент читается из БД один раз на выгрузку")
	assert.Empty(t, rows[2].Username)
	assert.Equal(t, uint(2), rows[2].StudentID)
	mockUserRepo.AssertExpectations(t)
}
