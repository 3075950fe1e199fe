package service

import (
	"fmt"

	apperrors "github.com/yourusername/lms-api/internal/pkg/errors"
)

// Ошибки жизненного цикла попытки. Все оборачивают общие сентинелы из
// internal/pkg/errors, чтобы хендлеры могли маппить их через errors.Is.
var (
	// ErrNotPurchased - студент не покупал курс, которому принадлежит тест
	ErrNotPurchased = fmt.Errorf("%w: course not purchased", apperrors.ErrForbidden)

	// ErrPrerequisitesNotMet - лекция-пререквизит урочного теста не просмотрена
	ErrPrerequisitesNotMet = fmt.Errorf("%w: prerequisites not met, complete the lecture first", apperrors.ErrForbidden)

	// ErrAttemptLimitReached - исчерпан лимит попыток по тесту
	ErrAttemptLimitReached = fmt.Errorf("%w: maximum attempts reached", apperrors.ErrForbidden)

	// ErrNotAttemptOwner - попытка принадлежит другому студенту или тесту.
	// Защита от подстановки ответов в чужую попытку.
	ErrNotAttemptOwner = fmt.Errorf("%w: attempt belongs to another student or quiz", apperrors.ErrForbidden)

	// ErrNotQuizOwner - тест принадлежит другому преподавателю
	ErrNotQuizOwner = fmt.Errorf("%w: quiz belongs to another instructor", apperrors.ErrForbidden)

	// ErrAlreadySubmitted - попытка уже завершена или захвачена
	// конкурирующей сдачей (проигрыш CAS-гонки)
	ErrAlreadySubmitted = fmt.Errorf("%w: attempt already submitted or processing", apperrors.ErrConflict)

	// ErrTimeLimitExceeded - сдача после истечения лимита времени.
	// Попытка возвращается в in_progress, а не теряется.
	ErrTimeLimitExceeded = fmt.Errorf("%w: time limit exceeded", apperrors.ErrValidation)

	// ErrConcurrentStart - конкурирующий старт занял номер попытки;
	// вызывающий должен перечитать список попыток
	ErrConcurrentStart = fmt.Errorf("%w: attempt already exists, re-fetch attempts", apperrors.ErrConflict)

	// ErrQuizHasAttempts - тест нельзя удалить, пока по нему есть попытки
	ErrQuizHasAttempts = fmt.Errorf("%w: quiz has existing attempts", apperrors.ErrConflict)

	// ErrAttemptNotCompleted - ручная проверка возможна только для завершённой попытки
	ErrAttemptNotCompleted = fmt.Errorf("%w: attempt is not completed", apperrors.ErrConflict)

	// ErrReviewConflict - попытка изменилась между чтением и записью проверки;
	// вызывающий должен перечитать попытку и повторить
	ErrReviewConflict = fmt.Errorf("%w: attempt was modified concurrently, re-fetch and retry", apperrors.ErrConflict)
)
