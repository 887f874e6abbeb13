package snapshot

import (
	"encoding/json"
	"slices"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
)

// VoterSet holds the ordinals of the users that voted for a post.
type VoterSet map[int]struct{}

// Len returns the number of distinct voters.
func (set VoterSet) Len() int {
	return len(set)
}

// Contains reports whether the user at ordinal voted.
func (set VoterSet) Contains(ordinal int) bool {
	_, ok := set[ordinal]
	return ok
}

// Ordinals returns the voter ordinals in ascending order.
func (set VoterSet) Ordinals() []int {
	ordinals := make([]int, 0, len(set))
	for ordinal := range set {
		ordinals = append(ordinals, ordinal)
	}
	slices.Sort(ordinals)
	return ordinals
}

// MarshalJSON renders the set as an ascending array.
func (set VoterSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Ordinals())
}

// UnmarshalJSON accepts the array form produced by MarshalJSON.
func (set *VoterSet) UnmarshalJSON(data []byte) error {
	var ordinals []int
	if err := json.Unmarshal(data, &ordinals); err != nil {
		return err
	}
	*set = make(VoterSet, len(ordinals))
	for _, ordinal := range ordinals {
		(*set)[ordinal] = struct{}{}
	}
	return nil
}

// IndexedSnapshot augments a snapshot with constant-time lookups.
type IndexedSnapshot struct {
	feed.Snapshot
	UserIndex map[string]int      `json:"userIndex"`
	PostIndex map[string]int      `json:"postIndex"`
	PostVotes map[string]VoterSet `json:"postVotes"`
}

// Index builds the lookup tables of snapshot. When an address or post id
// repeats, the later ordinal wins. Votes cast by addresses absent from Users
// are ignored.
func Index(snapshot feed.Snapshot) IndexedSnapshot {
	indexed := IndexedSnapshot{
		Snapshot:  snapshot,
		UserIndex: make(map[string]int, len(snapshot.Users)),
		PostIndex: make(map[string]int, len(snapshot.Posts)),
		PostVotes: make(map[string]VoterSet),
	}
	for ordinal, user := range snapshot.Users {
		indexed.UserIndex[user.Address] = ordinal
	}
	for ordinal, post := range snapshot.Posts {
		indexed.PostIndex[post.ID] = ordinal
	}
	for _, vote := range snapshot.Votes {
		voter, ok := indexed.UserIndex[vote.User]
		if !ok {
			continue
		}
		voters, ok := indexed.PostVotes[vote.Post]
		if !ok {
			voters = make(VoterSet)
			indexed.PostVotes[vote.Post] = voters
		}
		voters[voter] = struct{}{}
	}
	return indexed
}

// User returns the user registered under address.
func (indexed IndexedSnapshot) User(address string) (feed.User, bool) {
	ordinal, ok := indexed.UserIndex[address]
	if !ok {
		return feed.User{}, false
	}
	return indexed.Users[ordinal], true
}

// Post returns the post registered under id.
func (indexed IndexedSnapshot) Post(id string) (feed.Post, bool) {
	ordinal, ok := indexed.PostIndex[id]
	if !ok {
		return feed.Post{}, false
	}
	return indexed.Posts[ordinal], true
}
