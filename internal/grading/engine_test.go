package grading_test

import (
	"testing"

	"github.com/classpulse/classpulse/internal/grading"
)

func TestGrade_Choice(t *testing.T) {
	g := grading.NewGrader()
	key := grading.Key{Kind: "choice", Answers: []string{"B"}, Points: 1}

	if res := g.Grade(key, []string{"B"}); !res.Correct || res.Points != 1 {
		t.Fatalf("expected correct with 1 point, got %+v", res)
	}
	if res := g.Grade(key, []string{"A"}); res.Correct {
		t.Fatalf("wrong option graded correct")
	}
	if res := g.Grade(key, []string{"A", "B"}); res.Correct {
		t.Fatalf("multi answer to single choice graded correct")
	}
}

func TestGrade_MultiChoice(t *testing.T) {
	g := grading.NewGrader()
	key := grading.Key{Kind: "multi_choice", Answers: []string{"A", "C"}, Points: 2}

	if res := g.Grade(key, []string{"C", "A"}); !res.Correct || res.Points != 2 {
		t.Fatalf("order should not matter, got %+v", res)
	}
	if res := g.Grade(key, []string{"A"}); res.Correct {
		t.Fatalf("subset graded correct")
	}
	if res := g.Grade(key, []string{"A", "C", "D"}); res.Correct {
		t.Fatalf("superset graded correct")
	}
}

func TestGrade_OpenText(t *testing.T) {
	g := grading.NewGrader()
	key := grading.Key{Kind: "open_text", Answers: []string{"São Paulo"}, Points: 1}

	cases := []struct {
		answer string
		want   bool
	}{
		{"São Paulo", true},
		{"sao paulo", true},
		{"  SAO   PAULO. ", true},
		{"sao pauli", true}, // one typo on a long answer
		{"Rio", false},
		{"", false},
	}
	for _, c := range cases {
		if got := g.Grade(key, []string{c.answer}).Correct; got != c.want {
			t.Errorf("answer %q: got %v, want %v", c.answer, got, c.want)
		}
	}
}

func TestGrade_OpenTextNumericFallback(t *testing.T) {
	g := grading.NewGrader()
	key := grading.Key{Kind: "open_text", Answers: []string{"0.75"}, Points: 1}

	if !g.Grade(key, []string{"3/4"}).Correct {
		t.Fatalf("fraction not accepted for numeric key")
	}
	if !g.Grade(key, []string{"0,75"}).Correct {
		t.Fatalf("comma decimal not accepted")
	}
}

func TestGrade_NumericTolerance(t *testing.T) {
	g := grading.NewGrader()

	abs := grading.Key{Kind: "numeric", Answers: []string{"3.14159"}, Points: 1, AbsTol: 0.01}
	if !g.Grade(abs, []string{"3.14"}).Correct {
		t.Fatalf("within abs tolerance graded incorrect")
	}
	if g.Grade(abs, []string{"3.2"}).Correct {
		t.Fatalf("outside abs tolerance graded correct")
	}

	rel := grading.Key{Kind: "numeric", Answers: []string{"100"}, Points: 1, RelTol: 0.05}
	if !g.Grade(rel, []string{"104"}).Correct {
		t.Fatalf("within rel tolerance graded incorrect")
	}
	if g.Grade(rel, []string{"110"}).Correct {
		t.Fatalf("outside rel tolerance graded correct")
	}
}

func TestGrade_UnparseableIsIncorrectNotError(t *testing.T) {
	g := grading.NewGrader()
	key := grading.Key{Kind: "numeric", Answers: []string{"42"}, Points: 1}

	for _, bad := range []string{"", "forty-two", "1/0", "   "} {
		if g.Grade(key, []string{bad}).Correct {
			t.Errorf("unparseable %q graded correct", bad)
		}
	}
}

func TestGradable(t *testing.T) {
	g := grading.NewGrader()
	for _, kind := range []string{"choice", "multi_choice", "true_false", "open_text", "numeric"} {
		if !g.Gradable(kind) {
			t.Errorf("kind %q should be gradable", kind)
		}
	}
	for _, kind := range []string{"poll", "board", ""} {
		if g.Gradable(kind) {
			t.Errorf("kind %q should not be gradable", kind)
		}
	}
}
