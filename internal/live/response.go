package live

// ResponseState is the lifecycle of one student's answer to one slide.
// Transitions only ever move forward: Unanswered -> Answered -> Evaluated.
type ResponseState int

const (
	Unanswered ResponseState = iota
	Answered                 // submitted, correctness not yet recorded
	Evaluated                // correctness recorded, never reversed
)

func (s ResponseState) String() string {
	switch s {
	case Answered:
		return "answered"
	case Evaluated:
		return "evaluated"
	default:
		return "unanswered"
	}
}

// StateOf derives the lifecycle state from a stored response. A nil response
// means the slide was never answered.
func StateOf(r *Response) ResponseState {
	if r == nil {
		return Unanswered
	}
	if r.IsCorrect != nil {
		return Evaluated
	}
	return Answered
}

// CanEvaluate reports whether a grading pass may touch this response.
// Already-evaluated responses are never re-graded.
func CanEvaluate(r *Response) bool {
	return StateOf(r) == Answered
}

// ResultVisible gates what the student UI may show: evaluated correctness
// stays hidden until the session-level reveal flag is set. Visibility is a
// session property, not a lifecycle state; the data may be evaluated long
// before the teacher reveals it.
func ResultVisible(sess *Session, r *Response) bool {
	return sess != nil && sess.RevealResults && StateOf(r) == Evaluated
}
