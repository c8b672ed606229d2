package live_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/classpulse/classpulse/internal/aggregate"
	"github.com/classpulse/classpulse/internal/identity"
	"github.com/classpulse/classpulse/internal/live"
	"github.com/classpulse/classpulse/internal/rtstore"
)

func participantCount(t *testing.T, store rtstore.Store, sessionID string) int {
	t.Helper()
	raw, err := store.Read(context.Background(), live.ParticipantsPath(sessionID))
	if err != nil {
		if err == rtstore.ErrNotFound {
			return 0
		}
		t.Fatalf("read participants: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal participants: %v", err)
	}
	return len(m)
}

// Any sequence of join/reconnect with one display name yields exactly one
// participant record.
func TestIdempotentRejoin(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	sc1, _ := newStudent(t, store)
	if err := sc1.Join(ctx, sess.ID, "Petra"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	firstID := sc1.Self().ID

	// Same person from a wiped device: new local identity, same name.
	sc2, _ := newStudent(t, store)
	if err := sc2.Join(ctx, sess.ID, "petra"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if sc2.Self().ID != firstID {
		t.Fatalf("name merge failed: %s != %s", sc2.Self().ID, firstID)
	}
	if n := participantCount(t, store, sess.ID); n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}
}

// A client whose own record exists must re-claim it by id on Join, never a
// same-named stranger's record.
func TestJoinPrefersOwnRecordOverNameMatch(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	im, err := identity.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	sc := live.NewStudentClient(store, im, fastRetry())
	if err := sc.Join(ctx, sess.ID, "Petra"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	myID := sc.Self().ID

	// A second Petra, joined from another device.
	stranger := live.Participant{ID: "stranger-1", DisplayName: "Petra", Online: true, JoinedAt: 1}
	if err := store.Write(ctx, live.ParticipantPath(sess.ID, stranger.ID), stranger); err != nil {
		t.Fatalf("seed stranger: %v", err)
	}

	sc2 := live.NewStudentClient(store, im, fastRetry())
	if err := sc2.Join(ctx, sess.ID, "Petra"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if sc2.Self().ID != myID {
		t.Fatalf("claimed record %s, want own %s", sc2.Self().ID, myID)
	}
}

// Scenario C: offline student reconnects with the persisted identity; prior
// responses are restored unchanged and no duplicate record appears.
func TestReconnectRestoresRecord(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	im, err := identity.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	sc := live.NewStudentClient(store, im, fastRetry())
	if err := sc.Join(ctx, sess.ID, "Petra"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := sc.SubmitResponse(ctx, "slide-0", []string{"A"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	pid := sc.Self().ID

	// Fresh client over the same persisted identity dir: silent resume.
	sc2 := live.NewStudentClient(store, im, fastRetry())
	resumed, err := sc2.Reconnect(ctx)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !resumed {
		t.Fatalf("expected silent resume")
	}
	if sc2.Self().ID != pid {
		t.Fatalf("resume changed identity: %s != %s", sc2.Self().ID, pid)
	}
	resp, err := sc2.ResponseFor(ctx, "slide-0")
	if err != nil || resp == nil {
		t.Fatalf("prior response lost: %v %v", resp, err)
	}
	if len(resp.Answer) != 1 || resp.Answer[0] != "A" {
		t.Fatalf("response mutated: %+v", resp)
	}
	if n := participantCount(t, store, sess.ID); n != 1 {
		t.Fatalf("duplicate participant after reconnect: %d", n)
	}
}

func TestReconnectWithoutRecordClearsPointer(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	im, _ := identity.NewManager(t.TempDir())
	sc := live.NewStudentClient(store, im, fastRetry())
	_ = sc.Join(ctx, sess.ID, "Petra")

	// Teacher kicks the student; the stale pointer must clear on resume.
	if err := tc.RemoveParticipant(ctx, sc.Self().ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	sc2 := live.NewStudentClient(store, im, fastRetry())
	resumed, err := sc2.Reconnect(ctx)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if resumed {
		t.Fatalf("resumed a removed record")
	}
	if ls, _ := im.LastJoined(); ls != nil {
		t.Fatalf("stale pointer kept: %+v", ls)
	}
}

// Scenario B: answer submitted unset, evaluated once by the teacher, reveal
// only after the pass, and a second pass never re-grades.
func TestEvaluateLifecycle(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	sc, _ := newStudent(t, store)
	_ = sc.Join(ctx, sess.ID, "Petra")
	if err := sc.SubmitResponse(ctx, "slide-1", []string{"B"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, _ := sc.ResponseFor(ctx, "slide-1")
	if live.StateOf(resp) != live.Answered {
		t.Fatalf("expected Answered before evaluate, got %v", live.StateOf(resp))
	}
	if sc.ResultVisibleFor(resp) {
		t.Fatalf("result visible before reveal")
	}

	graded, err := tc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if graded != 1 {
		t.Fatalf("graded %d, want 1", graded)
	}

	resp, _ = sc.ResponseFor(ctx, "slide-1")
	if live.StateOf(resp) != live.Evaluated {
		t.Fatalf("expected Evaluated, got %v", live.StateOf(resp))
	}
	if resp.IsCorrect == nil || !*resp.IsCorrect || resp.PointsAwarded != 1 {
		t.Fatalf("wrong grade: %+v", resp)
	}
	if !sc.ResultVisibleFor(resp) {
		t.Fatalf("result hidden after evaluate+reveal")
	}

	// Second pass touches nothing already evaluated.
	graded, err = tc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if graded != 0 {
		t.Fatalf("re-evaluate graded %d responses", graded)
	}
}

// A late answer after a first evaluate pass stays gated until the next one.
func TestEvaluateCatchesLateAnswers(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	early, _ := newStudent(t, store)
	_ = early.Join(ctx, sess.ID, "Early")
	_ = early.SubmitResponse(ctx, "slide-1", []string{"B"})

	if _, err := tc.Evaluate(ctx, 1); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	late, _ := newStudent(t, store)
	_ = late.Join(ctx, sess.ID, "Late")
	_ = late.SubmitResponse(ctx, "slide-1", []string{"C"})

	resp, _ := late.ResponseFor(ctx, "slide-1")
	if live.StateOf(resp) != live.Answered {
		t.Fatalf("late answer evaluated prematurely")
	}

	graded, err := tc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if graded != 1 {
		t.Fatalf("second pass graded %d, want 1", graded)
	}
	resp, _ = late.ResponseFor(ctx, "slide-1")
	if resp.IsCorrect == nil || *resp.IsCorrect {
		t.Fatalf("late wrong answer graded %+v", resp)
	}
}

func TestSubmitResponseTwice(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	sc, _ := newStudent(t, store)
	_ = sc.Join(ctx, sess.ID, "Petra")
	if err := sc.SubmitResponse(ctx, "slide-1", []string{"B"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sc.SubmitResponse(ctx, "slide-1", []string{"C"}); err != live.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	// The original answer is untouched.
	resp, _ := sc.ResponseFor(ctx, "slide-1")
	if resp.Answer[0] != "B" {
		t.Fatalf("answer overwritten: %+v", resp)
	}
}

func TestSelfPacedGradesAtSubmission(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeSelfPaced)
	ctx := context.Background()

	sc, _ := newStudent(t, store)
	_ = sc.Join(ctx, sess.ID, "Petra")
	if err := sc.SubmitResponse(ctx, "slide-4", []string{"42"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp, _ := sc.ResponseFor(ctx, "slide-4")
	if live.StateOf(resp) != live.Evaluated {
		t.Fatalf("self-paced response not graded at submission: %+v", resp)
	}
	if !*resp.IsCorrect || resp.PointsAwarded != 1 {
		t.Fatalf("wrong self-grade: %+v", resp)
	}
}

// Scenario D end-to-end through the store.
func TestVotingThroughStore(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	s1, _ := newStudent(t, store)
	_ = s1.Join(ctx, sess.ID, "One")
	s2, _ := newStudent(t, store)
	_ = s2.Join(ctx, sess.ID, "Two")

	_ = s1.SubmitVote(ctx, "slide-3", []string{"A"})
	_ = s2.SubmitVote(ctx, "slide-3", []string{"A"})

	votes, err := s1.Votes(ctx, "slide-3")
	if err != nil {
		t.Fatalf("votes: %v", err)
	}
	counts := aggregate.VoteCounts(votes)
	if counts["A"] != 2 || aggregate.TotalVoters(votes) != 2 {
		t.Fatalf("before re-vote: counts=%v voters=%d", counts, aggregate.TotalVoters(votes))
	}

	_ = s1.SubmitVote(ctx, "slide-3", []string{"B"})
	votes, _ = s1.Votes(ctx, "slide-3")
	counts = aggregate.VoteCounts(votes)
	if counts["A"] != 1 || counts["B"] != 1 || aggregate.TotalVoters(votes) != 2 {
		t.Fatalf("after re-vote: counts=%v voters=%d", counts, aggregate.TotalVoters(votes))
	}

	if err := s1.SubmitVote(ctx, "slide-3", nil); err != live.ErrEmptyVote {
		t.Fatalf("expected ErrEmptyVote, got %v", err)
	}
}

func TestBoardPosts(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	author, _ := newStudent(t, store)
	_ = author.Join(ctx, sess.ID, "Author")
	other, _ := newStudent(t, store)
	_ = other.Join(ctx, sess.ID, "Other")

	postID, err := author.AddPost(ctx, "first!", "", "pro")
	if err != nil {
		t.Fatalf("add post: %v", err)
	}

	// Like toggles on, then off.
	_ = other.LikePost(ctx, postID)
	posts, _ := other.Posts(ctx)
	if len(posts) != 1 || len(posts[0].Likes) != 1 {
		t.Fatalf("like not recorded: %+v", posts)
	}
	_ = other.LikePost(ctx, postID)
	posts, _ = other.Posts(ctx)
	if len(posts[0].Likes) != 0 {
		t.Fatalf("like not toggled off: %+v", posts)
	}

	// A non-author delete is a silent no-op.
	if err := other.DeletePost(ctx, postID); err != nil {
		t.Fatalf("foreign delete errored: %v", err)
	}
	if posts, _ = other.Posts(ctx); len(posts) != 1 {
		t.Fatalf("foreign delete removed post")
	}

	if err := author.DeletePost(ctx, postID); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if posts, _ = author.Posts(ctx); len(posts) != 0 {
		t.Fatalf("author delete did not remove post")
	}
}

// The teacher moderates the board: any post is deletable.
func TestTeacherModeratesBoard(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	author, _ := newStudent(t, store)
	_ = author.Join(ctx, sess.ID, "Author")
	postID, err := author.AddPost(ctx, "off topic", "", "")
	if err != nil {
		t.Fatalf("add post: %v", err)
	}

	if err := tc.DeletePost(ctx, postID); err != nil {
		t.Fatalf("moderate delete: %v", err)
	}
	if posts, _ := author.Posts(ctx); len(posts) != 0 {
		t.Fatalf("post survived moderation: %+v", posts)
	}
}

func TestSetFocused(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := newTeacher(t, store)
	sess := mustCreate(t, tc, live.ModeLive)
	ctx := context.Background()

	sc, _ := newStudent(t, store)
	_ = sc.Join(ctx, sess.ID, "Petra")
	if err := sc.SetFocused(ctx, false); err != nil {
		t.Fatalf("set focused: %v", err)
	}
	roster, err := tc.Roster(ctx)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 || roster[0].IsFocused {
		t.Fatalf("focus flag not surfaced: %+v", roster)
	}
}
