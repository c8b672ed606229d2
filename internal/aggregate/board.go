package aggregate

import (
	"sort"

	"github.com/classpulse/classpulse/internal/live"
)

// SortPosts orders board posts for display: most liked first, ties broken by
// recency. Posts are never scored; this is purely presentational.
func SortPosts(posts []live.Post) []live.Post {
	out := make([]live.Post, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Likes) != len(out[j].Likes) {
			return len(out[i].Likes) > len(out[j].Likes)
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// ByColumn splits posts for a two-sided board, preserving sort order.
func ByColumn(posts []live.Post) map[string][]live.Post {
	out := map[string][]live.Post{}
	for _, p := range posts {
		out[p.Column] = append(out[p.Column], p)
	}
	return out
}
