package seed

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/projection"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/google/go-cmp/cmp"
)

func TestGenerateBuildsTheWholeCommunity(t *testing.T) {
	generated, err := Generate(context.Background(), storage.NewMemory(), snapshot.Options{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(generated.Users) != len(Members) || len(generated.Posts) != 17 || len(generated.Votes) != 4 {
		t.Fatalf("unexpected sizes: %d users, %d posts, %d votes", len(generated.Users), len(generated.Posts), len(generated.Votes))
	}
	for ordinal, user := range generated.Users {
		if ordinal > 0 && user.InvitedBy == user.Address {
			t.Fatalf("only the root may invite itself: %#v", user)
		}
	}

	page := projection.FrontPage(snapshot.Index(generated), projection.DefaultFrontPageSize)
	if len(page) != 15 {
		t.Fatalf("expected 15 stories, got %d", len(page))
	}
	top := page[0]
	if top.Title != "Hex News launched! 🔥💥📣" || top.Votes != 3 {
		t.Fatalf("unexpected top story %#v", top)
	}
	levels := []int{}
	for _, comment := range top.Comments {
		levels = append(levels, comment.Level)
	}
	if diff := cmp.Diff([]int{0, 1}, levels); diff != "" {
		t.Fatalf("unexpected comment levels (-want +got):\n%s", diff)
	}
}

func TestGenerateIsIndependentOfConcurrency(t *testing.T) {
	serial, err := Generate(context.Background(), storage.NewMemory(), snapshot.Options{FetchBatchSize: 1, Concurrency: 1})
	if err != nil {
		t.Fatalf("serial generate failed: %v", err)
	}
	batched, err := Generate(context.Background(), storage.NewMemory(), snapshot.Options{FetchBatchSize: 4, Concurrency: 6})
	if err != nil {
		t.Fatalf("batched generate failed: %v", err)
	}
	if diff := cmp.Diff(serial, batched); diff != "" {
		t.Fatalf("snapshots differ (-serial +batched):\n%s", diff)
	}
}
