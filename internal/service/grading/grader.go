package grading

import (
	"math"

	"github.com/yourusername/lms-api/internal/domain/entity"
)

// SubmittedAnswer представляет ответ студента, как он пришёл с клиента.
// Answer всегда строка: выбор варианта нормализуется к строковому значению
// опции на границе API, до вызова грейдера.
type SubmittedAnswer struct {
	QuestionID uint
	Answer     string
}

// Result представляет итог автоматической оценки попытки
type Result struct {
	Answers      entity.AttemptAnswers
	PointsEarned int
	TotalPoints  int
	Score        int // процент 0-100
	Passed       bool
	NeedsReview  bool // есть хотя бы один ответ на ручную проверку
}

// Grade оценивает ответы студента по вопросам теста. Чистая функция:
// без побочных эффектов и обращений к хранилищу.
//
// Правила:
//   - ответ на несуществующий вопрос молча отбрасывается (клиент мог
//     прислать устаревший id);
//   - вопросы ручной проверки получают IsCorrect=nil, 0 баллов и
//     NeedsReview=true, их вклад в оценку отложен;
//   - остальные сравниваются точным строковым равенством с CorrectAnswer;
//   - TotalPoints — сумма баллов ВСЕХ вопросов теста: пропущенный вопрос
//     уменьшает pointsEarned, но не знаменатель;
//   - пока есть непроверенные ответы, score принудительно 0 и passed=false,
//     независимо от автоматически оцененной части;
//   - тест без баллов (totalPoints=0) даёт определённый результат 0%,
//     а не деление на ноль.
func Grade(questions []entity.Question, submitted []SubmittedAnswer, passingScore int) Result {
	byID := make(map[uint]*entity.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	res := Result{
		Answers: make(entity.AttemptAnswers, 0, len(submitted)),
	}

	for _, sub := range submitted {
		question, ok := byID[sub.QuestionID]
		if !ok {
			continue
		}

		answer := entity.AttemptAnswer{
			QuestionID: sub.QuestionID,
			Answer:     sub.Answer,
		}

		if question.RequiresReview() {
			// Баллы назначит преподаватель при ручной проверке
			answer.IsCorrect = nil
			answer.PointsEarned = 0
			answer.NeedsReview = true
			res.NeedsReview = true
		} else {
			correct := question.IsCorrect(sub.Answer)
			answer.IsCorrect = &correct
			if correct {
				answer.PointsEarned = question.Points
				res.PointsEarned += question.Points
			}
		}

		res.Answers = append(res.Answers, answer)
	}

	for _, q := range questions {
		res.TotalPoints += q.Points
	}

	if res.NeedsReview {
		// Итог скрыт до ручной проверки
		res.Score = 0
		res.Passed = false
		return res
	}

	res.Score = Percentage(res.PointsEarned, res.TotalPoints)
	res.Passed = res.Score >= passingScore
	return res
}

// Regrade пересчитывает итог попытки после ручной проверки. Ответы уже
// содержат проставленные преподавателем IsCorrect/PointsEarned; попытка
// остаётся непроверенной, если хотя бы один NeedsReview-ответ без вердикта.
func Regrade(answers entity.AttemptAnswers, totalPoints, passingScore int) Result {
	res := Result{
		Answers:     answers,
		TotalPoints: totalPoints,
	}

	for _, ans := range answers {
		if ans.NeedsReview && ans.IsCorrect == nil {
			res.NeedsReview = true
		}
		res.PointsEarned += ans.PointsEarned
	}

	if res.NeedsReview {
		res.Score = 0
		res.Passed = false
		return res
	}

	res.Score = Percentage(res.PointsEarned, res.TotalPoints)
	res.Passed = res.Score >= passingScore
	return res
}

// Percentage возвращает округлённый процент earned от total.
// total <= 0 — граничный случай (тест без вопросов или с нулевыми
// баллами), определён как 0%.
func Percentage(earned, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(earned) / float64(total) * 100))
}
