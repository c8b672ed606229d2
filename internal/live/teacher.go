package live

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/grading"
	"github.com/classpulse/classpulse/internal/presence"
	"github.com/classpulse/classpulse/internal/reconnect"
	"github.com/classpulse/classpulse/internal/rtstore"
)

// Join codes avoid lookalike characters so they survive being read aloud.
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const joinCodeLen = 6

// TeacherController owns the authoritative session document: the slide
// pointer, the lock and reveal flags, and the grading pass. Exactly one
// controller per live session.
type TeacherController struct {
	store   rtstore.Store
	retry   *reconnect.Manager
	grader  *grading.Grader
	own     Ownership
	ownerID string
	now     func() time.Time

	mu    sync.Mutex
	sess  *Session
	ended bool
}

func NewTeacherController(store rtstore.Store, ownerID string, retry *reconnect.Manager) *TeacherController {
	if retry == nil {
		retry = reconnect.NewManager(reconnect.DefaultConfig())
	}
	return &TeacherController{
		store:   store,
		retry:   retry,
		grader:  grading.NewGrader(),
		ownerID: ownerID,
		now:     time.Now,
	}
}

// CreateSession writes the initial session document and its join-code
// pointer. Creation is not idempotent, so a failed write surfaces as
// CreationError immediately instead of being retried.
func (c *TeacherController) CreateSession(ctx context.Context, quizRef, mode string, slides []Slide) (*Session, error) {
	if mode == "" {
		mode = ModeLive
	}
	sess := &Session{
		ID:                uuid.NewString(),
		JoinCode:          generateJoinCode(),
		OwnerID:           c.ownerID,
		QuizRef:           quizRef,
		Mode:              mode,
		CurrentSlideIndex: 0,
		LockMode:          true,
		RevealResults:     false,
		IsActive:          true,
		CreatedAt:         c.now().Unix(),
		Slides:            slides,
	}
	if err := c.store.Write(ctx, SessionPath(sess.ID), sess); err != nil {
		return nil, &CreationError{Err: err}
	}
	if err := c.store.Write(ctx, JoinCodePath(sess.JoinCode), map[string]string{"session_id": sess.ID}); err != nil {
		return nil, &CreationError{Err: err}
	}
	c.mu.Lock()
	c.sess = sess
	c.ended = false
	c.mu.Unlock()
	return c.Session(), nil
}

// Resume re-attaches a controller to an existing session after a teacher
// client restart. The session must belong to this owner.
func (c *TeacherController) Resume(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := c.store.Read(ctx, SessionPath(sessionID))
	if err != nil {
		if errors.Is(err, rtstore.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	if sess.OwnerID != c.ownerID {
		return nil, ErrForbiddenWrite
	}
	c.mu.Lock()
	c.sess = &sess
	c.ended = !sess.IsActive
	c.mu.Unlock()
	return c.Session(), nil
}

// Session returns a copy of the controller's authoritative snapshot.
func (c *TeacherController) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	cp := *c.sess
	return &cp
}

func (c *TeacherController) active() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrSessionNotFound
	}
	if c.ended {
		return nil, ErrSessionEnded
	}
	return c.sess, nil
}

// mergeRoot applies owner fields to the session root with ownership
// enforcement and bounded retries, then folds them into the local snapshot.
func (c *TeacherController) mergeRoot(ctx context.Context, fields map[string]interface{}, apply func(*Session)) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	if err := c.own.Check(RoleTeacher, c.ownerID, SessionPath(sess.ID), OpMerge, names); err != nil {
		return err
	}
	if err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.MergeWrite(ctx, SessionPath(sess.ID), fields)
	}); err != nil {
		return err
	}
	c.mu.Lock()
	apply(c.sess)
	c.mu.Unlock()
	return nil
}

// AdvanceTo moves the authoritative slide pointer. Reveal is always reset so
// students never see stale correctness indicators on a fresh slide.
func (c *TeacherController) AdvanceTo(ctx context.Context, slideIndex int) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	if slideIndex < 0 || slideIndex >= len(sess.Slides) {
		return ErrSlideOutOfRange
	}
	return c.mergeRoot(ctx,
		map[string]interface{}{"current_slide_index": slideIndex, "reveal_results": false},
		func(s *Session) { s.CurrentSlideIndex = slideIndex; s.RevealResults = false })
}

// SetLockMode toggles whether students mirror the teacher's pointer.
func (c *TeacherController) SetLockMode(ctx context.Context, locked bool) error {
	return c.mergeRoot(ctx,
		map[string]interface{}{"lock_mode": locked},
		func(s *Session) { s.LockMode = locked })
}

// SetRevealResults toggles result visibility without running a grading pass.
func (c *TeacherController) SetRevealResults(ctx context.Context, reveal bool) error {
	return c.mergeRoot(ctx,
		map[string]interface{}{"reveal_results": reveal},
		func(s *Session) { s.RevealResults = reveal })
}

// Evaluate grades every still-unevaluated response for the slide and then
// reveals results. The pass is idempotent: re-invoking it only touches
// responses that arrived since the previous pass, and an evaluated response
// is never re-graded. Returns the number of responses graded.
func (c *TeacherController) Evaluate(ctx context.Context, slideIndex int) (int, error) {
	sess, err := c.active()
	if err != nil {
		return 0, err
	}
	if slideIndex < 0 || slideIndex >= len(sess.Slides) {
		return 0, ErrSlideOutOfRange
	}
	slide := sess.Slides[slideIndex]

	graded := 0
	if c.grader.Gradable(slide.Kind) {
		parts, err := c.readParticipants(ctx, sess.ID)
		if err != nil && !errors.Is(err, rtstore.ErrNotFound) {
			return 0, err
		}
		key := grading.Key{
			Kind:    slide.Kind,
			Answers: slide.AnswerKey,
			Points:  slide.Points,
			AbsTol:  slide.AbsTol,
			RelTol:  slide.RelTol,
		}
		for pid, node := range parts {
			resp, ok := node.Responses[slide.ID]
			if !ok || !CanEvaluate(&resp) {
				continue
			}
			res := c.grader.Grade(key, resp.Answer)
			path := ResponsePath(sess.ID, pid, slide.ID)
			fields := map[string]interface{}{
				"is_correct":     res.Correct,
				"points_awarded": res.Points,
			}
			if err := c.own.Check(RoleTeacher, c.ownerID, path, OpMerge, []string{"is_correct", "points_awarded"}); err != nil {
				return graded, err
			}
			if err := c.retry.Do(ctx, func(ctx context.Context) error {
				return c.store.MergeWrite(ctx, path, fields)
			}); err != nil {
				return graded, err
			}
			graded++
		}
	}
	if err := c.SetRevealResults(ctx, true); err != nil {
		return graded, err
	}
	return graded, nil
}

// EndSession marks the session terminal. The controller refuses further
// mutation afterwards; in-flight student writes are not retroactively
// invalidated, clients check the flag before new writes.
func (c *TeacherController) EndSession(ctx context.Context, showResults bool) error {
	endedAt := c.now().Unix()
	err := c.mergeRoot(ctx,
		map[string]interface{}{"is_active": false, "ended_at": endedAt, "reveal_results": showResults},
		func(s *Session) {
			s.IsActive = false
			s.EndedAt = &endedAt
			s.RevealResults = showResults
		})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	return nil
}

// RemoveParticipant deletes a participant's whole subtree (teacher kick).
func (c *TeacherController) RemoveParticipant(ctx context.Context, participantID string) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	path := ParticipantPath(sess.ID, participantID)
	if err := c.own.Check(RoleTeacher, c.ownerID, path, OpDelete, nil); err != nil {
		return err
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, path)
	})
}

// DeletePost removes any post; the teacher moderates the board.
func (c *TeacherController) DeletePost(ctx context.Context, postID string) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	path := PostPath(sess.ID, postID)
	if err := c.own.Check(RoleTeacher, c.ownerID, path, OpDelete, nil); err != nil {
		return err
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, path)
	})
}

// participantNode is a participant record merged with its responses subtree,
// the shape a subtree read of participants/{pid} assembles.
type participantNode struct {
	Participant
	Responses map[string]Response `json:"responses"`
}

func (c *TeacherController) readParticipants(ctx context.Context, sessionID string) (map[string]participantNode, error) {
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

// Roster returns the current participants with Online recomputed from
// heartbeat staleness, for the teacher dashboard.
func (c *TeacherController) Roster(ctx context.Context) ([]Participant, error) {
	sess := c.Session()
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	parts, err := c.readParticipants(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, rtstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	interval := presence.LiveInterval
	if sess.Mode == ModeSelfPaced {
		interval = presence.SelfPacedInterval
	}
	threshold := presence.ThresholdFor(interval)
	now := c.now()
	out := make([]Participant, 0, len(parts))
	for _, node := range parts {
		p := node.Participant
		p.Online = p.Online && presence.Online(p.LastHeartbeatAt, now, threshold)
		out = append(out, p)
	}
	return out, nil
}

// StartPresence begins the teacher's own heartbeat on the session root.
func (c *TeacherController) StartPresence(ctx context.Context) *presence.Tracker {
	sess := c.Session()
	if sess == nil {
		return nil
	}
	tr := presence.NewTracker(c.store, SessionPath(sess.ID), presence.LiveInterval)
	tr.Field = "owner_heartbeat_at"
	tr.OnlineField = ""
	tr.Start(ctx)
	return tr
}

func generateJoinCode() string {
	b := make([]byte, joinCodeLen)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for anything else too.
		panic(fmt.Sprintf("join code entropy: %v", err))
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b)
}
