package nicknames

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "nicks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Nickname{}); err != nil {
		t.Fatalf("failed to migrate nickname schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestSetAndApplyNicknames(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.Set(ctx, " 0xAlice ", "alice"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := service.Set(ctx, "0xalice", "Alice B."); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	users := []feed.User{{Address: "0xalice"}, {Address: "0xbob", Nick: "kept"}}
	decorated, err := service.Apply(ctx, users)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if decorated[0].Nick != "Alice B." || decorated[1].Nick != "kept" {
		t.Fatalf("unexpected decorated users %#v", decorated)
	}
	if users[0].Nick != "" {
		t.Fatalf("apply modified its input")
	}
}

func TestApplyLoadsFromDatabaseOnColdCache(t *testing.T) {
	first, db := newTestService(t)
	if err := first.Set(context.Background(), "0xcarol", "carol"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	second, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	nick, ok, err := second.Lookup(context.Background(), "0xcarol")
	if err != nil || !ok || nick != "carol" {
		t.Fatalf("unexpected lookup result %q %v %v", nick, ok, err)
	}
	if _, ok, err := second.Lookup(context.Background(), "0xnobody"); err != nil || ok {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
}

func TestSetRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t)
	testCases := []struct {
		address string
		nick    string
		code    string
	}{
		{address: "", nick: "x", code: "nicknames.set.invalid_address"},
		{address: "0xa", nick: "   ", code: "nicknames.set.invalid_nick"},
		{address: "0xa", nick: strings.Repeat("n", 65), code: "nicknames.set.invalid_nick"},
	}
	for _, testCase := range testCases {
		err := service.Set(context.Background(), testCase.address, testCase.nick)
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != testCase.code {
			t.Fatalf("expected %s, got %v", testCase.code, err)
		}
	}
}
