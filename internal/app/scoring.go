package app

import (
	"math"

	"live-quiz-service/internal/domain"
)

// maxSpeedBonus is the bonus fraction for an instant answer.
const maxSpeedBonus = 0.5

// ScoreAnswer grades option against q. A correct answer earns the question's
// points plus up to 50% scaled linearly by the time remaining; wrong answers
// and the timeout sentinel earn nothing.
func ScoreAnswer(q domain.Question, option, timeLeft int) (bool, int) {
	if option == domain.TimeoutAnswer || option != q.CorrectAnswer {
		return false, 0
	}
	if q.TimeLimit <= 0 {
		return true, q.Points
	}
	if timeLeft > q.TimeLimit {
		timeLeft = q.TimeLimit
	}
	bonus := math.Max(0, float64(timeLeft)/float64(q.TimeLimit)*maxSpeedBonus)
	return true, int(math.Round(float64(q.Points) * (1 + bonus)))
}
