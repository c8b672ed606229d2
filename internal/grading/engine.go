// Package grading compares submitted answers against a slide's answer key.
// Comparison is a pure function: it never fails, and any input it cannot
// interpret grades as incorrect.
package grading

// Key is the minimal view of a slide needed for comparison.
type Key struct {
	Kind    string // choice, multi_choice, true_false, open_text, numeric
	Answers []string
	Points  int
	// Numeric tolerances. Zero means exact.
	AbsTol float64
	RelTol float64
}

// Result is the outcome of comparing one answer.
type Result struct {
	Correct bool
	Points  int
}

// Strategy compares one answer against one key.
type Strategy interface {
	Compare(key Key, answer []string) bool
}

// Grader routes by slide kind to the right Strategy.
type Grader struct {
	strategies map[string]Strategy
}

// NewGrader installs the built-in strategies.
func NewGrader() *Grader {
	return &Grader{
		strategies: map[string]Strategy{
			"choice":       choiceStrategy{},
			"true_false":   choiceStrategy{},
			"multi_choice": multiChoiceStrategy{},
			"open_text":    openTextStrategy{},
			"numeric":      numericStrategy{},
		},
	}
}

// Gradable reports whether slides of this kind carry an answer key at all.
// Polls and board slides have no notion of correctness.
func (g *Grader) Gradable(kind string) bool {
	_, ok := g.strategies[kind]
	return ok
}

// Grade compares answer against key. Points is the slide's point value when
// correct, zero otherwise.
func (g *Grader) Grade(key Key, answer []string) Result {
	s, ok := g.strategies[key.Kind]
	if !ok || len(key.Answers) == 0 || len(answer) == 0 {
		return Result{}
	}
	if !s.Compare(key, answer) {
		return Result{}
	}
	return Result{Correct: true, Points: key.Points}
}

type choiceStrategy struct{}

func (choiceStrategy) Compare(key Key, answer []string) bool {
	if len(answer) != 1 {
		return false
	}
	for _, k := range key.Answers {
		if answer[0] == k {
			return true
		}
	}
	return false
}

type multiChoiceStrategy struct{}

func (multiChoiceStrategy) Compare(key Key, answer []string) bool {
	return setEqual(toSet(key.Answers), toSet(answer))
}

// openTextStrategy accepts a normalized text match against any key entry,
// falling back to tolerant numeric comparison when both sides parse.
type openTextStrategy struct{}

func (openTextStrategy) Compare(key Key, answer []string) bool {
	if len(answer) != 1 {
		return false
	}
	got := normalize(answer[0])
	for _, k := range key.Answers {
		want := normalize(k)
		if want == got || closeEnough(want, got) {
			return true
		}
	}
	return numericStrategy{}.Compare(key, answer)
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
