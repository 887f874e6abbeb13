package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnencodableUpdate indicates that an update has no wire representation.
var ErrUnencodableUpdate = errors.New("feed: update cannot be encoded")

type wireUpdate struct {
	Type   string `json:"type"`
	User   string `json:"user,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Link   string `json:"link,omitempty"`
	Parent string `json:"parent,omitempty"`
	Post   string `json:"post,omitempty"`
}

// EncodeUpdate renders the JSON payload stored at a log index.
func EncodeUpdate(update Update) ([]byte, error) {
	switch typed := update.(type) {
	case Invite:
		if strings.TrimSpace(typed.Address) == "" {
			return nil, fmt.Errorf("%w: invite without address", ErrUnencodableUpdate)
		}
		return json.Marshal(wireUpdate{Type: string(UpdateKindInvite), User: typed.Address})
	case PostUpdate:
		return CanonicalPost(typed), nil
	case VoteUpdate:
		if strings.TrimSpace(typed.Post) == "" {
			return nil, fmt.Errorf("%w: vote without post", ErrUnencodableUpdate)
		}
		return json.Marshal(wireUpdate{Type: string(UpdateKindVote), Post: typed.Post})
	case Unrecognized:
		if len(typed.Raw) == 0 {
			return nil, fmt.Errorf("%w: empty unrecognized payload", ErrUnencodableUpdate)
		}
		return append([]byte(nil), typed.Raw...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnencodableUpdate, update)
	}
}

// DecodeUpdate parses a stored payload. It never fails: payloads that are not
// one of the known update kinds decode into Unrecognized.
func DecodeUpdate(raw []byte) Update {
	var wire wireUpdate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Unrecognized{Raw: append([]byte(nil), raw...)}
	}
	switch UpdateKind(wire.Type) {
	case UpdateKindInvite:
		if wire.User == "" {
			break
		}
		return Invite{Address: wire.User}
	case UpdateKindPost:
		return PostUpdate{Title: wire.Title, Text: wire.Text, Link: wire.Link, Parent: wire.Parent}
	case UpdateKindVote:
		if wire.Post == "" {
			break
		}
		return VoteUpdate{Post: wire.Post}
	}
	return Unrecognized{RawKind: wire.Type, Raw: append([]byte(nil), raw...)}
}
