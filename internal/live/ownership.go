package live

import "strings"

// Role of a tree writer.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Op is the write kind being checked.
type Op string

const (
	OpWrite  Op = "write"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
)

// gradingFields are the only response fields the teacher may touch in
// another participant's record.
var gradingFields = map[string]bool{
	"is_correct":     true,
	"points_awarded": true,
}

// Ownership is the static field-partitioning table of the protocol: every
// path has exactly one writer role. It is enforced here at the write-call
// boundary, not trusted to the store, and is the whole concurrency-control
// mechanism.
type Ownership struct{}

// Check validates that a caller with the given role and participant id may
// perform op at path. fields lists the top-level fields of a merge; nil for
// full writes and deletes.
func (Ownership) Check(role Role, selfID, path string, op Op, fields []string) error {
	segs := strings.Split(path, "/")
	switch segs[0] {
	case "joincodes":
		if role == RoleTeacher {
			return nil
		}
		return ErrForbiddenWrite
	case "sessions":
		if len(segs) < 2 {
			return ErrForbiddenWrite
		}
		return checkSessionSubtree(role, selfID, segs[2:], op, fields)
	}
	return ErrForbiddenWrite
}

func checkSessionSubtree(role Role, selfID string, rest []string, op Op, fields []string) error {
	// Session root document: owner only.
	if len(rest) == 0 {
		if role == RoleTeacher {
			return nil
		}
		return ErrForbiddenWrite
	}
	switch rest[0] {
	case "participants":
		return checkParticipantSubtree(role, selfID, rest[1:], op, fields)
	case "votes":
		// votes/{slideId}/{participantId}: a participant writes only their
		// own vote; re-voting is an overwrite of the same path.
		if len(rest) == 3 && rest[2] == selfID {
			return nil
		}
		return ErrForbiddenWrite
	case "posts":
		// posts/{postId}: open to every participant. Author-or-teacher
		// deletion is a client-side check because the author is only known
		// from the document itself.
		if len(rest) == 2 {
			return nil
		}
		return ErrForbiddenWrite
	}
	return ErrForbiddenWrite
}

func checkParticipantSubtree(role Role, selfID string, rest []string, op Op, fields []string) error {
	if len(rest) == 0 {
		return ErrForbiddenWrite
	}
	pid := rest[0]
	// participants/{pid}
	if len(rest) == 1 {
		if pid == selfID {
			return nil
		}
		// The teacher may remove a participant, never edit their record.
		if role == RoleTeacher && op == OpDelete {
			return nil
		}
		return ErrForbiddenWrite
	}
	// participants/{pid}/responses/{slideId}
	if len(rest) == 3 && rest[1] == "responses" {
		if pid == selfID && op == OpWrite {
			return nil
		}
		if role == RoleTeacher && op == OpMerge && onlyGradingFields(fields) {
			return nil
		}
		return ErrForbiddenWrite
	}
	return ErrForbiddenWrite
}

func onlyGradingFields(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !gradingFields[f] {
			return false
		}
	}
	return true
}
