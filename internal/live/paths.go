package live

import "fmt"

// Tree layout. The session root document holds only owner-written fields;
// participant records, responses, votes and posts live at their own paths so
// no two writer roles ever contend on one document.
func SessionPath(sessionID string) string {
	return "sessions/" + sessionID
}

func JoinCodePath(code string) string {
	return "joincodes/" + code
}

func ParticipantPath(sessionID, participantID string) string {
	return fmt.Sprintf("sessions/%s/participants/%s", sessionID, participantID)
}

func ParticipantsPath(sessionID string) string {
	return fmt.Sprintf("sessions/%s/participants", sessionID)
}

func ResponsePath(sessionID, participantID, slideID string) string {
	return fmt.Sprintf("sessions/%s/participants/%s/responses/%s", sessionID, participantID, slideID)
}

func VotePath(sessionID, slideID, participantID string) string {
	return fmt.Sprintf("sessions/%s/votes/%s/%s", sessionID, slideID, participantID)
}

func VotesPath(sessionID, slideID string) string {
	return fmt.Sprintf("sessions/%s/votes/%s", sessionID, slideID)
}

func PostPath(sessionID, postID string) string {
	return fmt.Sprintf("sessions/%s/posts/%s", sessionID, postID)
}

func PostsPath(sessionID string) string {
	return fmt.Sprintf("sessions/%s/posts", sessionID)
}
