// Package projection derives the read-side views of an indexed snapshot:
// vote tallies, comment trees and the ranked front page. Every function is
// pure and safe for concurrent use on a shared IndexedSnapshot.
package projection

import (
	"slices"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
)

// DefaultFrontPageSize is the number of recent stories considered for the front page.
const DefaultFrontPageSize = 30

// VoteCount returns the number of distinct voters of post plus one for its author.
func VoteCount(indexed snapshot.IndexedSnapshot, post feed.Post) int {
	return indexed.PostVotes[post.ID].Len() + 1
}

// RecentTopLevel returns up to n parentless posts, newest first.
func RecentTopLevel(current feed.Snapshot, n int) []feed.Post {
	posts := make([]feed.Post, 0, max(min(n, len(current.Posts)), 0))
	for i := len(current.Posts) - 1; i >= 0 && len(posts) < n; i-- {
		if current.Posts[i].IsTopLevel() {
			posts = append(posts, current.Posts[i])
		}
	}
	return posts
}

// ChildrenOf returns every descendant of post found after it in the snapshot,
// in discovery order. Direct replies have level 0.
func ChildrenOf(indexed snapshot.IndexedSnapshot, post feed.Post) []feed.Comment {
	start, ok := indexed.PostIndex[post.ID]
	if !ok {
		return []feed.Comment{}
	}
	order := make([]string, 0)
	found := make(map[string]feed.Comment)
	for _, candidate := range indexed.Posts[start+1:] {
		level := 0
		switch parent, seen := found[candidate.Parent]; {
		case candidate.Parent == "":
			continue
		case candidate.Parent == post.ID:
		case seen:
			level = parent.Level + 1
		default:
			continue
		}
		if _, exists := found[candidate.ID]; !exists {
			order = append(order, candidate.ID)
		}
		found[candidate.ID] = feed.Comment{Post: candidate, Level: level}
	}

	comments := make([]feed.Comment, 0, len(order))
	for _, id := range order {
		comments = append(comments, found[id])
	}
	return comments
}

// Combine attaches the comment tree and vote tally to post.
func Combine(indexed snapshot.IndexedSnapshot, post feed.Post) feed.CombinedPost {
	return feed.CombinedPost{
		Post:     post,
		Comments: ChildrenOf(indexed, post),
		Votes:    VoteCount(indexed, post),
	}
}

// Rank orders posts by vote count, then by comment count, both descending.
// Ties keep their input order.
func Rank(posts []feed.CombinedPost) []feed.CombinedPost {
	ranked := slices.Clone(posts)
	slices.SortStableFunc(ranked, func(a, b feed.CombinedPost) int {
		if a.Votes != b.Votes {
			return b.Votes - a.Votes
		}
		return len(b.Comments) - len(a.Comments)
	})
	return ranked
}

// PostByID returns the combined view of the post registered under id.
func PostByID(indexed snapshot.IndexedSnapshot, id string) (feed.CombinedPost, bool) {
	post, ok := indexed.Post(id)
	if !ok {
		return feed.CombinedPost{}, false
	}
	return Combine(indexed, post), true
}

// FrontPage ranks the n most recent stories.
func FrontPage(indexed snapshot.IndexedSnapshot, n int) []feed.CombinedPost {
	recent := RecentTopLevel(indexed.Snapshot, n)
	combined := make([]feed.CombinedPost, 0, len(recent))
	for _, post := range recent {
		combined = append(combined, Combine(indexed, post))
	}
	return Rank(combined)
}

// NextLogIndex returns the first unread index of address's log as known to the
// snapshot, or 0 for an address outside the invite graph.
func NextLogIndex(indexed snapshot.IndexedSnapshot, address string) int {
	user, ok := indexed.User(address)
	if !ok {
		return 0
	}
	return user.LastIndex
}
