package store

import (
	"context"
	"os"
	"testing"
	"time"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := skipWithoutDB(t)
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegration_SetAndLookupPhoneNumber(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := "itest" + time.Now().Format("150405")
	group := "zzzgroup"

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO jivegroupuser (groupname, username, administrator) VALUES ($1, $2, 0)`,
		group, user,
	); err != nil {
		t.Fatalf("seed group member: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM jivegroupuser WHERE username = $1`, user)
		s.pool.Exec(ctx, `DELETE FROM iemchat_userprop WHERE username = $1`, user)
	})

	if err := s.SetPhoneNumber(ctx, user, "5155551212"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	// Setting again replaces rather than duplicates.
	if err := s.SetPhoneNumber(ctx, user, "5155550000"); err != nil {
		t.Fatalf("replace phone: %v", err)
	}

	subs, err := s.LookupPhoneNumbers(ctx, group)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	var mine []Subscriber
	for _, sub := range subs {
		if sub.Username == user {
			mine = append(mine, sub)
		}
	}
	if len(mine) != 1 {
		t.Fatalf("expected exactly 1 number for %s, got %d", user, len(mine))
	}
	if mine[0].Number != "5155550000" {
		t.Errorf("expected replaced number, got %s", mine[0].Number)
	}
}

func TestIntegration_LookupEmptyGroup(t *testing.T) {
	s := setupTestStore(t)

	subs, err := s.LookupPhoneNumbers(context.Background(), "nosuchgroup-"+time.Now().Format("150405"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscribers, got %d", len(subs))
	}
}
