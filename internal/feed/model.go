package feed

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const maxAddressLength = 190

// ErrInvalidAddress indicates that an identity address is empty or exceeds storage bounds.
var ErrInvalidAddress = errors.New("feed: invalid address")

// NormalizeAddress validates raw input and returns the canonical lower-case address.
func NormalizeAddress(rawInput string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(trimmed) > maxAddressLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAddress, maxAddressLength)
	}
	return trimmed, nil
}

// Identity is the owner of exactly one log. PrivateKey is only present for writers.
type Identity struct {
	Address    string `json:"address"`
	PrivateKey string `json:"-"`
}

// User is an identity admitted through the invite graph together with the
// synchronizer's read cursor for its log.
type User struct {
	Address string `json:"address"`
	// LastIndex is the next unread index of the user's log.
	LastIndex int    `json:"lastIndex"`
	InvitedBy string `json:"invitedBy"`
	Nick      string `json:"nick,omitempty"`
}

// Post is a materialized post update attributed to the owner of the log it was read from.
type Post struct {
	ID     string `json:"id"`
	User   string `json:"user"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Link   string `json:"link,omitempty"`
	Parent string `json:"parent,omitempty"`
}

// IsTopLevel reports whether the post has no parent.
func (post Post) IsTopLevel() bool {
	return post.Parent == ""
}

// Update returns the content fields the post id was derived from.
func (post Post) Update() PostUpdate {
	return PostUpdate{Title: post.Title, Text: post.Text, Link: post.Link, Parent: post.Parent}
}

// NewPost materializes a post update read from owner's log.
func NewPost(owner string, update PostUpdate) Post {
	return Post{
		ID:     PostID(update),
		User:   owner,
		Title:  update.Title,
		Text:   update.Text,
		Link:   update.Link,
		Parent: update.Parent,
	}
}

// Vote is one vote entry; repeated votes by the same user collapse during indexing.
type Vote struct {
	Post string `json:"post"`
	User string `json:"user"`
}

// Snapshot is the append-only aggregate of every log read so far. Array order is
// significant and reproducible from a given log state.
type Snapshot struct {
	Users []User `json:"users"`
	Posts []Post `json:"posts"`
	Votes []Vote `json:"votes"`
}

// NewRootSnapshot seeds a snapshot with a single self-invited root user.
func NewRootSnapshot(rootAddress string) Snapshot {
	return Snapshot{
		Users: []User{{Address: rootAddress, LastIndex: 0, InvitedBy: rootAddress}},
		Posts: []Post{},
		Votes: []Vote{},
	}
}

// Clone returns a copy whose slices share no backing arrays with the receiver.
// Nil slices stay nil.
func (snapshot Snapshot) Clone() Snapshot {
	return Snapshot{
		Users: slices.Clone(snapshot.Users),
		Posts: slices.Clone(snapshot.Posts),
		Votes: slices.Clone(snapshot.Votes),
	}
}

// Comment is a descendant post with its depth below the viewed root (0 = direct reply).
type Comment struct {
	Post
	Level int `json:"level"`
}

// CombinedPost is a post enriched with its comment tree and vote tally.
type CombinedPost struct {
	Post
	Comments []Comment `json:"comments"`
	Votes    int       `json:"votes"`
}
