package grader

import (
	"testing"

	"github.com/pavelanni/trainer/internal/model"
)

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:                 int64(i + 1),
			ModuleID:           1,
			Order:              i + 1,
			Prompt:             "Q",
			Options:            []string{"a", "b", "c"},
			CorrectOptionIndex: i % 3,
		}
	}
	return qs
}

func TestGrade(t *testing.T) {
	qs := testQuestions(3)
	allCorrect := Answers{1: 0, 2: 1, 3: 2}
	allWrong := Answers{1: 2, 2: 2, 3: 0}

	tests := []struct {
		name      string
		questions []model.Question
		answers   Answers
		want      int
	}{
		{"all correct", qs, allCorrect, 100},
		{"all wrong", qs, allWrong, 0},
		{"one of three", qs, Answers{1: 0, 2: 0, 3: 0}, 33},
		{"two of three", qs, Answers{1: 0, 2: 1, 3: 0}, 67},
		{"unanswered counts as wrong", qs, Answers{1: 0}, 33},
		{"nil answers", qs, nil, 0},
		{"half", testQuestions(2), Answers{1: 0, 2: 0}, 50},
		{"no questions", nil, nil, 100},
		{"unknown question ignored", qs, Answers{1: 0, 2: 1, 3: 2, 99: 1}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade(tt.questions, tt.answers)
			if got != tt.want {
				t.Errorf("Grade() = %d, want %d", got, tt.want)
			}
			if again := Grade(tt.questions, tt.answers); again != got {
				t.Errorf("Grade() not deterministic: %d then %d", got, again)
			}
		})
	}
}

func TestUnanswered(t *testing.T) {
	qs := testQuestions(3)
	got := Unanswered(qs, Answers{2: 1})
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Unanswered() = %v, want [1 3]", got)
	}
	if got := Unanswered(qs, Answers{1: 0, 2: 0, 3: 0}); len(got) != 0 {
		t.Errorf("Unanswered() = %v, want empty", got)
	}
}
