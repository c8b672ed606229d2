package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/grading"
	"github.com/classpulse/classpulse/internal/identity"
	"github.com/classpulse/classpulse/internal/presence"
	"github.com/classpulse/classpulse/internal/reconnect"
	"github.com/classpulse/classpulse/internal/rtstore"
)

// ErrEmptyVote rejects a vote with no selected options.
var ErrEmptyVote = errors.New("vote must select at least one option")

// StudentClient joins a session, mirrors or diverges from the teacher's
// slide pointer depending on lock mode, and writes its own record, responses,
// votes and posts into the shared tree. All mutations go through the retry
// manager; the local snapshot is treated as authoritative until a
// subscription update confirms or overrides it.
type StudentClient struct {
	store  rtstore.Store
	ident  *identity.Manager
	retry  *reconnect.Manager
	grader *grading.Grader
	own    Ownership
	now    func() time.Time

	mu        sync.Mutex
	sess      *Session
	self      Participant
	joined    bool
	unsubs    []func()
	lastSlide int

	slideCh chan int
	tracker *presence.Tracker
}

func NewStudentClient(store rtstore.Store, ident *identity.Manager, retry *reconnect.Manager) *StudentClient {
	if retry == nil {
		retry = reconnect.NewManager(reconnect.DefaultConfig())
	}
	return &StudentClient{
		store:     store,
		ident:     ident,
		retry:     retry,
		grader:    grading.NewGrader(),
		now:       time.Now,
		lastSlide: -1,
		slideCh:   make(chan int, 16),
	}
}

// resolveSession accepts either a session id or a join code.
func (c *StudentClient) resolveSession(ctx context.Context, ref string) (*Session, error) {
	raw, err := c.store.Read(ctx, SessionPath(ref))
	if errors.Is(err, rtstore.ErrNotFound) {
		code := strings.ToUpper(strings.TrimSpace(ref))
		var ptr struct {
			SessionID string `json:"session_id"`
		}
		codeRaw, codeErr := c.store.Read(ctx, JoinCodePath(code))
		if codeErr != nil {
			return nil, ErrSessionNotFound
		}
		if err := json.Unmarshal(codeRaw, &ptr); err != nil || ptr.SessionID == "" {
			return nil, ErrSessionNotFound
		}
		raw, err = c.store.Read(ctx, SessionPath(ptr.SessionID))
		if err != nil {
			return nil, ErrSessionNotFound
		}
	} else if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Join enters a session by id or join code. Before creating a new record the
// existing participants are searched for a case-insensitive display-name
// match and that record's id is reused, restoring prior responses and
// observed slide. This merge is a best-effort anti-duplication heuristic;
// the persisted id-based path in Reconnect is preferred whenever available.
func (c *StudentClient) Join(ctx context.Context, ref, displayName string) error {
	sess, err := c.resolveSession(ctx, ref)
	if err != nil {
		return err
	}
	if !sess.IsActive {
		return ErrSessionEnded
	}

	ident, err := c.ident.Ensure(displayName)
	if err != nil {
		return err
	}

	var self Participant
	found := false
	if existing, err := c.readParticipants(ctx, sess.ID); err == nil {
		// The persisted identity's own record always wins; the name scan is
		// the fallback for a wiped device, and must never shadow it.
		if node, ok := existing[ident.ID]; ok {
			self = node.Participant
			found = true
		} else {
			for _, node := range existing {
				if strings.EqualFold(node.DisplayName, displayName) {
					self = node.Participant
					found = true
					break
				}
			}
		}
	}

	if found {
		// Re-claim the record: refresh the device binding, leave the
		// responses and observed slide untouched.
		path := ParticipantPath(sess.ID, self.ID)
		if err := c.own.Check(RoleStudent, self.ID, path, OpMerge, []string{"device_id", "online"}); err != nil {
			return err
		}
		err = c.retry.Do(ctx, func(ctx context.Context) error {
			return c.store.MergeWrite(ctx, path, map[string]interface{}{
				"device_id": ident.DeviceID,
				"online":    true,
			})
		})
		if err != nil {
			return err
		}
		self.DeviceID = ident.DeviceID
		self.Online = true
	} else {
		self = Participant{
			ID:                 ident.ID,
			DisplayName:        displayName,
			DeviceID:           ident.DeviceID,
			ObservedSlideIndex: sess.CurrentSlideIndex,
			Online:             true,
			JoinedAt:           c.now().Unix(),
		}
		path := ParticipantPath(sess.ID, self.ID)
		if err := c.own.Check(RoleStudent, self.ID, path, OpWrite, nil); err != nil {
			return err
		}
		if err := c.retry.Do(ctx, func(ctx context.Context) error {
			return c.store.Write(ctx, path, self)
		}); err != nil {
			return err
		}
	}

	if err := c.ident.RememberSession(identity.LastSession{
		SessionID:     sess.ID,
		ParticipantID: self.ID,
		DisplayName:   displayName,
		JoinedAt:      c.now().Unix(),
	}); err != nil {
		return err
	}

	c.attach(sess, self)
	return nil
}

// Reconnect resumes the persisted (session, participant) pair without any
// prompt. A missing record clears the pointer so the caller can fall back to
// Join; an ended session keeps the pointer, since the same session id may be
// reopened later.
func (c *StudentClient) Reconnect(ctx context.Context) (bool, error) {
	last, err := c.ident.LastJoined()
	if err != nil || last == nil {
		return false, err
	}
	raw, err := c.store.Read(ctx, ParticipantPath(last.SessionID, last.ParticipantID))
	if errors.Is(err, rtstore.ErrNotFound) {
		_ = c.ident.ForgetSession()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var node participantNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return false, err
	}

	sess, err := c.resolveSession(ctx, last.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			_ = c.ident.ForgetSession()
			return false, nil
		}
		return false, err
	}
	if !sess.IsActive {
		return false, nil
	}
	c.attach(sess, node.Participant)
	return true, nil
}

// attach installs the snapshot and (re)starts the subscription stream.
func (c *StudentClient) attach(sess *Session, self Participant) {
	c.mu.Lock()
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	c.sess = sess
	c.self = self
	c.joined = true
	unsub := c.store.Subscribe(SessionPath(sess.ID), c.handleUpdate)
	c.unsubs = append(c.unsubs, unsub)
	display := c.displayedLocked()
	c.lastSlide = display
	c.mu.Unlock()
	c.emit(display)
}

// handleUpdate folds pushed tree changes into the snapshot. It can fire
// during the client's own in-flight writes, in either order relative to the
// write's completion; both paths apply the same values so order is benign.
func (c *StudentClient) handleUpdate(u rtstore.Update) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	switch u.Path {
	case SessionPath(c.sess.ID):
		if u.Value != nil {
			var sess Session
			if json.Unmarshal(u.Value, &sess) == nil {
				c.sess = &sess
			}
		}
	case ParticipantPath(c.sess.ID, c.self.ID):
		if u.Value != nil {
			var p Participant
			if json.Unmarshal(u.Value, &p) == nil && p.ID != "" {
				c.self = p
			}
		}
	}
	display := c.displayedLocked()
	changed := display != c.lastSlide
	c.lastSlide = display
	c.mu.Unlock()
	if changed {
		c.emit(display)
	}
}

func (c *StudentClient) displayedLocked() int {
	if c.sess == nil {
		return 0
	}
	if c.sess.LockMode {
		return c.sess.CurrentSlideIndex
	}
	return c.self.ObservedSlideIndex
}

// ObserveSlide streams the slide index the student should display: the
// teacher's pointer while locked, the student's own while unlocked.
// Switching locked snaps immediately to the teacher's index. Consumers
// render idempotently; intermediate values may be dropped under load.
func (c *StudentClient) ObserveSlide() <-chan int {
	return c.slideCh
}

func (c *StudentClient) emit(idx int) {
	for {
		select {
		case c.slideCh <- idx:
			return
		default:
			// Full: drop the oldest pending value and retry.
			select {
			case <-c.slideCh:
			default:
			}
		}
	}
}

// DisplayedSlide returns the current value of the observe stream.
func (c *StudentClient) DisplayedSlide() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayedLocked()
}

// Session returns a copy of the latest session snapshot.
func (c *StudentClient) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	cp := *c.sess
	return &cp
}

// Self returns a copy of the participant record.
func (c *StudentClient) Self() Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *StudentClient) snapshot() (*Session, Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined || c.sess == nil {
		return nil, Participant{}, ErrSessionNotFound
	}
	if !c.sess.IsActive {
		return nil, Participant{}, ErrSessionEnded
	}
	cp := *c.sess
	return &cp, c.self, nil
}

// NavigateTo records the student's own slide position. While locked the
// value is stored but the displayed slide keeps following the teacher.
func (c *StudentClient) NavigateTo(ctx context.Context, slideIndex int) error {
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	if slideIndex < 0 || slideIndex >= len(sess.Slides) {
		return ErrSlideOutOfRange
	}
	path := ParticipantPath(sess.ID, self.ID)
	if err := c.own.Check(RoleStudent, self.ID, path, OpMerge, []string{"observed_slide_index"}); err != nil {
		return err
	}
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.MergeWrite(ctx, path, map[string]interface{}{"observed_slide_index": slideIndex})
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.self.ObservedSlideIndex = slideIndex
	display := c.displayedLocked()
	changed := display != c.lastSlide
	c.lastSlide = display
	c.mu.Unlock()
	if changed {
		c.emit(display)
	}
	return nil
}

// SubmitResponse writes the student's answer for a slide, exactly once. In
// self-paced sessions correctness is computed locally at submission; in live
// sessions it stays unset until the teacher's evaluate pass.
func (c *StudentClient) SubmitResponse(ctx context.Context, slideID string, answer []string) error {
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	slide := sess.SlideByID(slideID)
	if slide == nil {
		return ErrSlideOutOfRange
	}
	path := ResponsePath(sess.ID, self.ID, slideID)
	if _, err := c.store.Read(ctx, path); err == nil {
		return ErrAlreadyAnswered
	} else if !errors.Is(err, rtstore.ErrNotFound) {
		return err
	}

	resp := Response{
		SlideID:     slideID,
		Answer:      answer,
		SubmittedAt: c.now().Unix(),
	}
	if sess.Mode == ModeSelfPaced && c.grader.Gradable(slide.Kind) {
		res := c.grader.Grade(grading.Key{
			Kind:    slide.Kind,
			Answers: slide.AnswerKey,
			Points:  slide.Points,
			AbsTol:  slide.AbsTol,
			RelTol:  slide.RelTol,
		}, answer)
		resp.IsCorrect = &res.Correct
		resp.PointsAwarded = res.Points
	}
	if err := c.own.Check(RoleStudent, self.ID, path, OpWrite, nil); err != nil {
		return err
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.Write(ctx, path, resp)
	})
}

// ResponseFor reads the student's own response for a slide, nil when the
// slide is unanswered.
func (c *StudentClient) ResponseFor(ctx context.Context, slideID string) (*Response, error) {
	sess, self, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	raw, err := c.store.Read(ctx, ResponsePath(sess.ID, self.ID, slideID))
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResultVisibleFor applies the reveal gate for the student UI.
func (c *StudentClient) ResultVisibleFor(r *Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResultVisible(c.sess, r)
}

// SubmitVote records or replaces this participant's vote on a poll slide.
func (c *StudentClient) SubmitVote(ctx context.Context, slideID string, optionIDs []string) error {
	if len(optionIDs) == 0 {
		return ErrEmptyVote
	}
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	path := VotePath(sess.ID, slideID, self.ID)
	if err := c.own.Check(RoleStudent, self.ID, path, OpWrite, nil); err != nil {
		return err
	}
	vote := Vote{OptionIDs: optionIDs, VotedAt: c.now().Unix()}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.Write(ctx, path, vote)
	})
}

// AddPost appends a discussion-board post and returns its id. The append is
// routed through the duplicate-suppressing retry path so a raced retry
// cannot land the post twice.
func (c *StudentClient) AddPost(ctx context.Context, text, mediaRef, column string) (string, error) {
	sess, self, err := c.snapshot()
	if err != nil {
		return "", err
	}
	post := Post{
		ID:        uuid.NewString(),
		AuthorID:  self.ID,
		Text:      text,
		MediaRef:  mediaRef,
		Column:    column,
		CreatedAt: c.now().Unix(),
	}
	path := PostPath(sess.ID, post.ID)
	if err := c.own.Check(RoleStudent, self.ID, path, OpWrite, nil); err != nil {
		return "", err
	}
	err = c.retry.DoAppend(ctx, post.ID, func(ctx context.Context) error {
		return c.store.Write(ctx, path, post)
	})
	if err != nil {
		return "", err
	}
	return post.ID, nil
}

// LikePost toggles this participant in the post's like set.
func (c *StudentClient) LikePost(ctx context.Context, postID string) error {
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	path := PostPath(sess.ID, postID)
	raw, err := c.store.Read(ctx, path)
	if err != nil {
		return err
	}
	var post Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return err
	}
	likes := make([]string, 0, len(post.Likes)+1)
	removed := false
	for _, id := range post.Likes {
		if id == self.ID {
			removed = true
			continue
		}
		likes = append(likes, id)
	}
	if !removed {
		likes = append(likes, self.ID)
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.MergeWrite(ctx, path, map[string]interface{}{"likes": likes})
	})
}

// DeletePost removes the student's own post. Deleting someone else's post is
// a silent no-op: the permission check is client-side by design, and the
// teacher moderates through its own controller.
func (c *StudentClient) DeletePost(ctx context.Context, postID string) error {
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	path := PostPath(sess.ID, postID)
	raw, err := c.store.Read(ctx, path)
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var post Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return err
	}
	if post.AuthorID != self.ID {
		return nil
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, path)
	})
}

// SetFocused reports the client's tab/window attention state. Informational
// only; it never gates a protocol transition.
func (c *StudentClient) SetFocused(ctx context.Context, focused bool) error {
	sess, self, err := c.snapshot()
	if err != nil {
		return err
	}
	path := ParticipantPath(sess.ID, self.ID)
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.MergeWrite(ctx, path, map[string]interface{}{"is_focused": focused})
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.self.IsFocused = focused
	c.mu.Unlock()
	return nil
}

// Votes reads the vote collection for a slide, for the aggregation layer.
func (c *StudentClient) Votes(ctx context.Context, slideID string) (map[string]Vote, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	raw, err := c.store.Read(ctx, VotesPath(sess.ID, slideID))
	if errors.Is(err, rtstore.ErrNotFound) {
		return map[string]Vote{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]Vote{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Posts reads the board posts, for the aggregation layer.
func (c *StudentClient) Posts(ctx context.Context) ([]Post, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	raw, err := c.store.Read(ctx, PostsPath(sess.ID))
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	byID := map[string]Post{}
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}
	out := make([]Post, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	return out, nil
}

func (c *StudentClient) readParticipants(ctx context.Context, sessionID string) (map[string]participantNode, error) {
	raw, err := c.store.Read(ctx, ParticipantsPath(sessionID))
	if err != nil {
		return nil, err
	}
	out := map[string]participantNode{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartPresence begins the heartbeat for this participant, with the interval
// chosen by session mode.
func (c *StudentClient) StartPresence(ctx context.Context) *presence.Tracker {
	sess, self, err := c.snapshot()
	if err != nil {
		return nil
	}
	interval := presence.LiveInterval
	if sess.Mode == ModeSelfPaced {
		interval = presence.SelfPacedInterval
	}
	tr := presence.NewTracker(c.store, ParticipantPath(sess.ID, self.ID), interval)
	tr.Start(ctx)
	c.mu.Lock()
	c.tracker = tr
	c.mu.Unlock()
	return tr
}

// Leave tears the client down: heartbeats stop, a best-effort offline flag
// is written, subscriptions are cancelled and the persisted identity is
// cleared. The staleness check covers the case where none of this lands.
func (c *StudentClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	tr := c.tracker
	c.tracker = nil
	unsubs := c.unsubs
	c.unsubs = nil
	sess := c.sess
	self := c.self
	c.joined = false
	c.mu.Unlock()

	if tr != nil {
		tr.Stop()
	} else if sess != nil {
		_ = c.store.MergeWrite(ctx, ParticipantPath(sess.ID, self.ID), map[string]interface{}{"online": false})
	}
	for _, u := range unsubs {
		u()
	}
	return c.ident.Clear()
}
