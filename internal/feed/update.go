package feed

// UpdateKind names the wire discriminator of a log entry.
type UpdateKind string

const (
	// UpdateKindInvite admits another identity into the invite graph.
	UpdateKindInvite UpdateKind = "invite"
	// UpdateKindPost submits a story or a comment.
	UpdateKindPost UpdateKind = "post"
	// UpdateKindVote upvotes a post by id.
	UpdateKindVote UpdateKind = "vote"
)

// Update is a single entry of an identity's log. The set of implementations is
// closed: Invite, PostUpdate, VoteUpdate and Unrecognized.
type Update interface {
	Kind() UpdateKind
	isUpdate()
}

// Invite names a new identity whose log becomes eligible for reading.
type Invite struct {
	Address string
}

// PostUpdate carries the content of a post. Empty Link or Parent means absent.
type PostUpdate struct {
	Title  string
	Text   string
	Link   string
	Parent string
}

// VoteUpdate references the voted post by id.
type VoteUpdate struct {
	Post string
}

// Unrecognized occupies a log index whose payload did not decode into a known
// update kind. It carries no content and is skipped during classification.
type Unrecognized struct {
	RawKind string
	Raw     []byte
}

func (Invite) Kind() UpdateKind       { return UpdateKindInvite }
func (PostUpdate) Kind() UpdateKind   { return UpdateKindPost }
func (VoteUpdate) Kind() UpdateKind   { return UpdateKindVote }
func (Unrecognized) Kind() UpdateKind { return "" }

func (Invite) isUpdate()       {}
func (PostUpdate) isUpdate()   {}
func (VoteUpdate) isUpdate()   {}
func (Unrecognized) isUpdate() {}

// IsTopLevel reports whether the post update is a root submission.
func (update PostUpdate) IsTopLevel() bool {
	return update.Parent == ""
}
