// Package grading scores a finalized answer set against an exam's question
// bank. It is pure: no I/O, no mutation of its inputs, same output for the
// same inputs regardless of answer arrival order.
package grading

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/proktor-backend/internal/model"
)

// GradedAnswer is the per-question grading result.
type GradedAnswer struct {
	QuestionID   uuid.UUID
	Value        string
	Correct      bool
	MarksAwarded int
}

// Outcome is the full grading result for one attempt.
type Outcome struct {
	Answers    []GradedAnswer
	Score      int
	TotalMarks int
	Percentage int
	Passed     bool
}

// Grade scores the submitted answers (keyed by question ID string) against
// the question bank. Answers referencing an unknown question are skipped
// and award nothing. Marks per question are all-or-nothing.
func Grade(answers map[string]string, questions []model.Question, totalMarks, passingMarks int) Outcome {
	bank := make(map[string]*model.Question, len(questions))
	for i := range questions {
		bank[questions[i].ID.String()] = &questions[i]
	}

	out := Outcome{TotalMarks: totalMarks}

	// Iterate the bank in its stored order so the graded slice is stable.
	for i := range questions {
		q := &questions[i]
		value, ok := answers[q.ID.String()]
		if !ok {
			continue
		}
		ga := GradedAnswer{QuestionID: q.ID, Value: value}
		if IsCorrect(q.QuestionType, value, q.CorrectAnswer) {
			ga.Correct = true
			ga.MarksAwarded = q.Marks
			out.Score += q.Marks
		}
		out.Answers = append(out.Answers, ga)
	}

	out.Percentage = Percentage(out.Score, totalMarks)
	out.Passed = out.Score >= passingMarks
	return out
}

// IsCorrect applies the per-type matching rule.
//
//   - multiple_choice / true_false: trimmed, case-insensitive exact match.
//   - short_answer: trimmed lowercase exact match, or every whitespace
//     token of the expected answer appears as a substring of the
//     submission (keyword containment).
func IsCorrect(qt model.QuestionType, submitted, expected string) bool {
	sub := strings.ToLower(strings.TrimSpace(submitted))
	exp := strings.ToLower(strings.TrimSpace(expected))

	switch qt {
	case model.QuestionTypeShortAnswer:
		if sub == exp {
			return true
		}
		tokens := strings.Fields(exp)
		if len(tokens) == 0 {
			return false
		}
		for _, tok := range tokens {
			if !strings.Contains(sub, tok) {
				return false
			}
		}
		return true
	default:
		return sub == exp
	}
}

// Percentage returns round(score/totalMarks*100), and 0 when totalMarks is 0.
func Percentage(score, totalMarks int) int {
	if totalMarks == 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(totalMarks) * 100))
}
