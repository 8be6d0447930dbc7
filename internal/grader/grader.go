// Package grader scores multiple-choice quiz submissions.
package grader

import (
	"math"

	"github.com/pavelanni/trainer/internal/model"
)

// Answers maps a question ID to the selected option index.
type Answers map[int64]int

// Grade returns round(100 * correct / total). Unanswered questions count as
// incorrect. An empty question set scores 100, matching auto-completion.
func Grade(questions []model.Question, answers Answers) int {
	if len(questions) == 0 {
		return 100
	}
	correct := 0
	for _, q := range questions {
		if sel, ok := answers[q.ID]; ok && sel == q.CorrectOptionIndex {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(len(questions))))
}

// Unanswered returns the IDs of questions with no selection, in question order.
func Unanswered(questions []model.Question, answers Answers) []int64 {
	var missing []int64
	for _, q := range questions {
		if _, ok := answers[q.ID]; !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}
