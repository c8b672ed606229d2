// Package aggregate fans independent per-participant write streams into the
// derived views everyone renders. Reducers are pure and stateless: they are
// recomputed in full on every subscription update, so a stale intermediate
// state is simply superseded by the next pass.
package aggregate

import "github.com/classpulse/classpulse/internal/live"

// VoteCounts tallies each selected option across all participants' current
// votes. A re-vote overwrote the participant's entry upstream, so it is
// counted once; multi-select votes contribute one count per option.
func VoteCounts(votes map[string]live.Vote) map[string]int {
	counts := map[string]int{}
	for _, v := range votes {
		for _, opt := range v.OptionIDs {
			counts[opt]++
		}
	}
	return counts
}

// TotalVoters counts distinct participants with a vote.
func TotalVoters(votes map[string]live.Vote) int {
	return len(votes)
}
