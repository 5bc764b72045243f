package grading

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/proktor-backend/internal/model"
)

func q(qt model.QuestionType, correct string, marks int) model.Question {
	return model.Question{
		ID:            uuid.New(),
		QuestionType:  qt,
		CorrectAnswer: correct,
		Marks:         marks,
	}
}

func TestGradeCaseInsensitiveChoice(t *testing.T) {
	q1 := q(model.QuestionTypeMultipleChoice, "B", 2)
	q2 := q(model.QuestionTypeTrueFalse, "True", 3)

	answers := map[string]string{
		q1.ID.String(): "b",
		q2.ID.String(): "False",
	}

	out := Grade(answers, []model.Question{q1, q2}, 5, 3)

	if out.Score != 2 {
		t.Fatalf("score = %d, want 2", out.Score)
	}
	if out.Percentage != 40 {
		t.Fatalf("percentage = %d, want 40", out.Percentage)
	}
	if out.Passed {
		t.Fatal("passed = true, want false (2 < 3)")
	}
}

func TestGradeNoPartialCredit(t *testing.T) {
	q1 := q(model.QuestionTypeMultipleChoice, "A", 4)
	answers := map[string]string{q1.ID.String(): "a "}

	out := Grade(answers, []model.Question{q1}, 4, 2)
	if len(out.Answers) != 1 {
		t.Fatalf("graded %d answers, want 1", len(out.Answers))
	}
	if got := out.Answers[0].MarksAwarded; got != 4 {
		t.Fatalf("marks = %d, want full 4", got)
	}

	out = Grade(map[string]string{q1.ID.String(): "almost A"}, []model.Question{q1}, 4, 2)
	if got := out.Answers[0].MarksAwarded; got != 0 {
		t.Fatalf("marks = %d, want 0", got)
	}
}

func TestShortAnswerKeywordContainment(t *testing.T) {
	cases := []struct {
		name      string
		expected  string
		submitted string
		want      bool
	}{
		{"exact", "photosynthesis", "Photosynthesis", true},
		{"keywords present", "photosynthesis light energy", "plants use light energy and photosynthesis to grow", true},
		{"keyword missing", "photosynthesis light energy", "plants use light to grow", false},
		{"empty submission", "mitochondria", "", false},
		{"substring token", "cell wall", "the cellulose wall protects the cell", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsCorrect(model.QuestionTypeShortAnswer, tc.submitted, tc.expected)
			if got != tc.want {
				t.Fatalf("IsCorrect(%q, %q) = %v, want %v", tc.submitted, tc.expected, got, tc.want)
			}
		})
	}
}

func TestGradeSkipsUnknownQuestions(t *testing.T) {
	q1 := q(model.QuestionTypeTrueFalse, "true", 1)
	answers := map[string]string{
		q1.ID.String():      "true",
		uuid.New().String(): "orphaned answer",
	}

	out := Grade(answers, []model.Question{q1}, 1, 1)
	if len(out.Answers) != 1 {
		t.Fatalf("graded %d answers, want 1 (orphan skipped)", len(out.Answers))
	}
	if out.Score != 1 {
		t.Fatalf("score = %d, want 1", out.Score)
	}
}

func TestGradeDeterministicAcrossOrder(t *testing.T) {
	qs := []model.Question{
		q(model.QuestionTypeMultipleChoice, "C", 2),
		q(model.QuestionTypeShortAnswer, "osmosis", 3),
		q(model.QuestionTypeTrueFalse, "false", 1),
	}
	answers := map[string]string{
		qs[0].ID.String(): "c",
		qs[1].ID.String(): "this is osmosis",
		qs[2].ID.String(): "true",
	}

	first := Grade(answers, qs, 6, 4)
	for i := 0; i < 10; i++ {
		again := Grade(answers, qs, 6, 4)
		if again.Score != first.Score || again.Percentage != first.Percentage || again.Passed != first.Passed {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
	if first.Score != 5 {
		t.Fatalf("score = %d, want 5", first.Score)
	}
}

func TestPercentageBoundaries(t *testing.T) {
	if got := Percentage(5, 0); got != 0 {
		t.Fatalf("Percentage(5, 0) = %d, want 0", got)
	}
	if got := Percentage(1, 3); got != 33 {
		t.Fatalf("Percentage(1, 3) = %d, want 33", got)
	}
	if got := Percentage(2, 3); got != 67 {
		t.Fatalf("Percentage(2, 3) = %d, want 67", got)
	}
	if got := Percentage(5, 5); got != 100 {
		t.Fatalf("Percentage(5, 5) = %d, want 100", got)
	}
}
