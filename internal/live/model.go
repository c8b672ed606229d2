// Package live implements the session synchronization protocol: one teacher
// owns the authoritative session document, an unbounded set of students
// mirror it through the shared state tree, and all coordination between them
// happens through field-partitioned writes to that tree.
package live

// Session modes. Live sessions defer grading to the teacher's evaluate pass;
// self-paced sessions grade locally at submission time.
const (
	ModeLive      = "live"
	ModeSelfPaced = "selfpaced"
)

type Choice struct {
	ID        string `json:"id"`
	LabelHTML string `json:"label_html,omitempty"`
}

// Slide is the read-only content definition consumed for rendering and
// evaluation. The engine never mutates slides after session creation.
type Slide struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"` // choice, multi_choice, true_false, open_text, numeric, poll, board
	PromptHTML string   `json:"prompt_html,omitempty"`
	Choices    []Choice `json:"choices,omitempty"`
	AnswerKey  []string `json:"answer_key,omitempty"`
	Points     int      `json:"points"`
	AbsTol     float64  `json:"abs_tol,omitempty"`
	RelTol     float64  `json:"rel_tol,omitempty"`
}

// Session is the owner-written root document. Every field here is mutated
// only by the teacher; participants get their own subtree.
type Session struct {
	ID                string  `json:"id"`
	JoinCode          string  `json:"join_code"`
	OwnerID           string  `json:"owner_id"`
	QuizRef           string  `json:"quiz_ref,omitempty"`
	Mode              string  `json:"mode"`
	CurrentSlideIndex int     `json:"current_slide_index"`
	LockMode          bool    `json:"lock_mode"`
	RevealResults     bool    `json:"reveal_results"`
	IsActive          bool    `json:"is_active"`
	CreatedAt         int64   `json:"created_at"`
	EndedAt           *int64  `json:"ended_at,omitempty"`
	OwnerHeartbeatAt  int64   `json:"owner_heartbeat_at,omitempty"`
	Slides            []Slide `json:"slides"`
}

// SlideByID returns the slide definition, or nil when unknown.
func (s *Session) SlideByID(slideID string) *Slide {
	for i := range s.Slides {
		if s.Slides[i].ID == slideID {
			return &s.Slides[i]
		}
	}
	return nil
}

// Participant is one student's record, written only by that student
// (the teacher may delete the whole record, never edit it).
type Participant struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display_name"`
	DeviceID           string `json:"device_id,omitempty"`
	ObservedSlideIndex int    `json:"observed_slide_index"`
	LastHeartbeatAt    int64  `json:"last_heartbeat_at,omitempty"`
	IsFocused          bool   `json:"is_focused"`
	Online             bool   `json:"online"`
	JoinedAt           int64  `json:"joined_at"`
}

// Response is one student's answer to one slide. Answer is immutable once
// written; IsCorrect and PointsAwarded move exactly once from unset to set,
// and only by the teacher in live mode.
type Response struct {
	SlideID       string   `json:"slide_id"`
	Answer        []string `json:"answer"`
	SubmittedAt   int64    `json:"submitted_at"`
	IsCorrect     *bool    `json:"is_correct,omitempty"`
	PointsAwarded int      `json:"points_awarded,omitempty"`
}

// Vote is one participant's current selection on a poll slide. Re-voting
// overwrites; the key (slide, participant) makes concurrent voters disjoint.
type Vote struct {
	OptionIDs []string `json:"option_ids"`
	VotedAt   int64    `json:"voted_at"`
}

// Post is one discussion-board entry. Append-only except for Likes (toggled
// by anyone) and deletion by the author or the teacher.
type Post struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"author_id"`
	Text      string   `json:"text"`
	MediaRef  string   `json:"media_ref,omitempty"`
	Likes     []string `json:"likes,omitempty"`
	Column    string   `json:"column,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// Liked reports whether pid is in the post's like set.
func (p *Post) Liked(pid string) bool {
	for _, id := range p.Likes {
		if id == pid {
			return true
		}
	}
	return false
}
