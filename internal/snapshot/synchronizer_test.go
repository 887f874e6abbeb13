package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

const (
	rootAddress  = "0xroot"
	aliceAddress = "0xalice"
	bobAddress   = "0xbob"
	carolAddress = "0xcarol"
)

var errBackendDown = errors.New("backend down")

func mustAppend(t *testing.T, backend *testutil.ScriptedBackend, address string, updates ...feed.Update) {
	t.Helper()
	if err := backend.Append(address, 0, updates...); err != nil {
		t.Fatalf("failed to seed %s: %v", address, err)
	}
}

func mustSync(t *testing.T, synchronizer *Synchronizer, current feed.Snapshot) feed.Snapshot {
	t.Helper()
	next, err := synchronizer.Sync(context.Background(), current)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	return next
}

type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// serialSync reads one entry at a time and appends invitees to a live queue.
func serialSync(t failer, finder storage.Finder, current feed.Snapshot) feed.Snapshot {
	t.Helper()
	next := current.Clone()
	known := make(map[string]bool)
	for _, user := range next.Users {
		known[user.Address] = true
	}
	for position := 0; position < len(next.Users); position++ {
		owner := next.Users[position].Address
		for {
			update, err := finder.FindUpdate(context.Background(), owner, next.Users[position].LastIndex)
			if errors.Is(err, storage.ErrNotFound) {
				break
			}
			if err != nil {
				t.Fatalf("reference lookup failed: %v", err)
			}
			next.Users[position].LastIndex++
			switch typed := update.(type) {
			case feed.Invite:
				if !known[typed.Address] {
					known[typed.Address] = true
					next.Users = append(next.Users, feed.User{Address: typed.Address, InvitedBy: owner})
				}
			case feed.PostUpdate:
				next.Posts = append(next.Posts, feed.NewPost(owner, typed))
			case feed.VoteUpdate:
				next.Votes = append(next.Votes, feed.Vote{Post: typed.Post, User: owner})
			}
		}
	}
	return next
}

func TestSyncFollowsInvitesTransitively(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.Invite{Address: aliceAddress})
	mustAppend(t, backend, aliceAddress, feed.Invite{Address: bobAddress})
	mustAppend(t, backend, bobAddress, feed.PostUpdate{Title: "deep", Link: "https://deep"})

	next := mustSync(t, NewSynchronizer(backend, Options{}), feed.NewRootSnapshot(rootAddress))

	expectedUsers := []feed.User{
		{Address: rootAddress, LastIndex: 1, InvitedBy: rootAddress},
		{Address: aliceAddress, LastIndex: 1, InvitedBy: rootAddress},
		{Address: bobAddress, LastIndex: 1, InvitedBy: aliceAddress},
	}
	if diff := cmp.Diff(expectedUsers, next.Users); diff != "" {
		t.Fatalf("unexpected users (-want +got):\n%s", diff)
	}
	if len(next.Posts) != 1 || next.Posts[0].User != bobAddress {
		t.Fatalf("expected bob's post to be reached in one call, got %#v", next.Posts)
	}
}

func TestSyncResumesFromCursors(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.PostUpdate{Title: "first"})
	synchronizer := NewSynchronizer(backend, Options{FetchBatchSize: 2})
	first := mustSync(t, synchronizer, feed.NewRootSnapshot(rootAddress))

	if err := backend.Append(rootAddress, 1, feed.PostUpdate{Title: "second"}, feed.Invite{Address: aliceAddress}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	mustAppend(t, backend, aliceAddress, feed.VoteUpdate{Post: first.Posts[0].ID})

	second := mustSync(t, synchronizer, first)
	if second.Users[0].LastIndex != 3 || len(second.Users) != 2 {
		t.Fatalf("unexpected users %#v", second.Users)
	}
	titles := []string{second.Posts[0].Title, second.Posts[1].Title}
	if diff := cmp.Diff([]string{"first", "second"}, titles); diff != "" {
		t.Fatalf("unexpected post order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]feed.Vote{{Post: first.Posts[0].ID, User: aliceAddress}}, second.Votes); diff != "" {
		t.Fatalf("unexpected votes (-want +got):\n%s", diff)
	}
	if len(first.Posts) != 1 || first.Users[0].LastIndex != 1 {
		t.Fatalf("previous snapshot was modified: %#v", first)
	}
}

func TestSyncWithoutNewDataReturnsEqualSnapshot(t *testing.T) {
	testCases := []struct {
		name    string
		current feed.Snapshot
	}{
		{name: "empty", current: feed.Snapshot{}},
		{name: "root", current: feed.NewRootSnapshot(rootAddress)},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			synchronizer := NewSynchronizer(testutil.NewScriptedBackend(), Options{})
			next := mustSync(t, synchronizer, testCase.current)
			if diff := cmp.Diff(testCase.current, next); diff != "" {
				t.Fatalf("unexpected snapshot (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.Invite{Address: aliceAddress}, feed.PostUpdate{Title: "hi", Text: "there"})
	mustAppend(t, backend, aliceAddress, feed.VoteUpdate{Post: "missing"})
	synchronizer := NewSynchronizer(backend, Options{})

	first := mustSync(t, synchronizer, feed.NewRootSnapshot(rootAddress))
	second := mustSync(t, synchronizer, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second sync changed the snapshot (-want +got):\n%s", diff)
	}
}

func TestSyncKeepsFirstInvite(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress,
		feed.Invite{Address: aliceAddress},
		feed.Invite{Address: bobAddress},
		feed.Invite{Address: aliceAddress},
		feed.Invite{Address: rootAddress},
	)
	mustAppend(t, backend, aliceAddress, feed.Invite{Address: bobAddress}, feed.Invite{Address: carolAddress})
	mustAppend(t, backend, bobAddress, feed.Invite{Address: carolAddress})

	next := mustSync(t, NewSynchronizer(backend, Options{Concurrency: 3}), feed.NewRootSnapshot(rootAddress))

	expectedUsers := []feed.User{
		{Address: rootAddress, LastIndex: 4, InvitedBy: rootAddress},
		{Address: aliceAddress, LastIndex: 2, InvitedBy: rootAddress},
		{Address: bobAddress, LastIndex: 1, InvitedBy: rootAddress},
		{Address: carolAddress, LastIndex: 0, InvitedBy: aliceAddress},
	}
	if diff := cmp.Diff(expectedUsers, next.Users); diff != "" {
		t.Fatalf("unexpected users (-want +got):\n%s", diff)
	}
}

func TestSyncSkipsMalformedEntries(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.PostUpdate{Title: "ok"})
	for index, payload := range []string{`not json`, `{"type":"repost","post":"x"}`, `{"type":"invite"}`} {
		if err := backend.PutRaw(rootAddress, index+1, []byte(payload)); err != nil {
			t.Fatalf("failed to seed raw entry: %v", err)
		}
	}
	if err := backend.Append(rootAddress, 4, feed.VoteUpdate{Post: "abc"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	next := mustSync(t, NewSynchronizer(backend, Options{FetchBatchSize: 2}), feed.NewRootSnapshot(rootAddress))
	if next.Users[0].LastIndex != 5 {
		t.Fatalf("expected malformed entries to advance the cursor, got %d", next.Users[0].LastIndex)
	}
	if len(next.Users) != 1 || len(next.Posts) != 1 || len(next.Votes) != 1 {
		t.Fatalf("unexpected snapshot %#v", next)
	}
}

func TestSyncFailureLeavesInputIntact(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.Invite{Address: aliceAddress}, feed.PostUpdate{Title: "root"})
	mustAppend(t, backend, aliceAddress, feed.PostUpdate{Title: "a"}, feed.PostUpdate{Title: "b"})
	backend.FailAt(aliceAddress, 1, errBackendDown)

	synchronizer := NewSynchronizer(backend, Options{})
	current := feed.NewRootSnapshot(rootAddress)
	before := current.Clone()

	next, err := synchronizer.Sync(context.Background(), current)
	if !errors.Is(err, errBackendDown) {
		t.Fatalf("expected backend failure, got %v", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Address != aliceAddress || fetchErr.Index != 1 {
		t.Fatalf("expected fetch error for alice at index 1, got %#v", err)
	}
	if diff := cmp.Diff(feed.Snapshot{}, next); diff != "" {
		t.Fatalf("expected zero snapshot on failure (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, current); diff != "" {
		t.Fatalf("input snapshot was modified (-want +got):\n%s", diff)
	}

	backend.FailAt(aliceAddress, 1, nil)
	recovered := mustSync(t, synchronizer, current)
	if len(recovered.Posts) != 3 {
		t.Fatalf("expected retry from the same input to succeed, got %#v", recovered.Posts)
	}
}

func TestSyncReportsEarliestFailingIdentity(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	mustAppend(t, backend, rootAddress, feed.Invite{Address: aliceAddress}, feed.Invite{Address: bobAddress})
	backend.FailAt(aliceAddress, 0, fmt.Errorf("alice: %w", errBackendDown))
	backend.FailAt(bobAddress, 0, fmt.Errorf("bob: %w", errBackendDown))

	for attempt := 0; attempt < 10; attempt++ {
		_, err := NewSynchronizer(backend.WithJitter(time.Millisecond), Options{}).Sync(context.Background(), feed.NewRootSnapshot(rootAddress))
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.Address != aliceAddress {
			t.Fatalf("expected alice's failure to be reported, got %v", err)
		}
	}
}

type generatedEntry struct {
	update feed.Update
	raw    string
}

func drawEntry(t *rapid.T, label string, addresses []string, postIDs []string) generatedEntry {
	switch rapid.IntRange(0, 4).Draw(t, label+"_kind") {
	case 0:
		return generatedEntry{update: feed.Invite{Address: rapid.SampledFrom(addresses).Draw(t, label+"_invitee")}}
	case 1:
		title := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, label+"_title")
		parent := ""
		if rapid.Bool().Draw(t, label+"_reply") {
			parent = rapid.SampledFrom(postIDs).Draw(t, label+"_parent")
		}
		return generatedEntry{update: feed.PostUpdate{Title: title, Parent: parent}}
	case 2, 3:
		return generatedEntry{update: feed.VoteUpdate{Post: rapid.SampledFrom(postIDs).Draw(t, label+"_post")}}
	default:
		return generatedEntry{raw: `{"type":"unknown"}`}
	}
}

func TestSyncMatchesSerialReadingForAnyWidth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		identities := rapid.IntRange(1, 6).Draw(t, "identities")
		addresses := make([]string, identities)
		for i := range addresses {
			addresses[i] = fmt.Sprintf("0xuser%d", i)
		}
		postIDs := []string{
			feed.PostID(feed.PostUpdate{Title: "a"}),
			feed.PostID(feed.PostUpdate{Title: "b"}),
			"unknown-post",
		}

		backend := testutil.NewScriptedBackend()
		for _, address := range addresses {
			length := rapid.IntRange(0, 6).Draw(t, address+"_length")
			for index := 0; index < length; index++ {
				entry := drawEntry(t, fmt.Sprintf("%s_%d", address, index), addresses, postIDs)
				var err error
				if entry.update != nil {
					err = backend.AddUpdate(context.Background(), feed.Identity{Address: address}, index, entry.update)
				} else {
					err = backend.PutRaw(address, index, []byte(entry.raw))
				}
				if err != nil {
					t.Fatalf("failed to seed log: %v", err)
				}
			}
		}

		expected := serialSync(t, backend.Memory, feed.NewRootSnapshot(addresses[0]))

		options := Options{
			FetchBatchSize: rapid.IntRange(1, 5).Draw(t, "batch_size"),
			Concurrency:    rapid.IntRange(1, 6).Draw(t, "concurrency"),
		}
		backend.WithJitter(time.Duration(rapid.IntRange(0, 200).Draw(t, "jitter_us")) * time.Microsecond)
		actual, err := NewSynchronizer(backend, options).Sync(context.Background(), feed.NewRootSnapshot(addresses[0]))
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Fatalf("batched sync diverged from serial reading (-want +got):\n%s", diff)
		}
	})
}
