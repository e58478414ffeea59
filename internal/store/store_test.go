package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/novolei/HChat-sub000/internal/models"
)

// Both implementations must satisfy the same contract.
func openStores(t *testing.T) map[string]PendingStore {
	t.Helper()
	ctx := context.Background()

	sqlite, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "pending.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]PendingStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func testMessage(id string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        id,
		Channel:   "lobby",
		Sender:    "alice",
		Text:      "hello",
		Timestamp: 1700000000000,
		Status:    models.StatusSending,
		Attachments: []models.Attachment{{
			ID:          "att-1",
			Kind:        models.KindImage,
			Filename:    "cat.png",
			ContentType: "image/png",
			GetURL:      "https://objects.example/cat.hcss",
			SizeBytes:   1234,
		}},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			msg := testMessage("m1")
			if err := s.Put(ctx, msg); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, "m1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Channel != "lobby" || got.Text != "hello" || got.Status != models.StatusSending {
				t.Fatalf("unexpected record: %+v", got)
			}
			if len(got.Attachments) != 1 || got.Attachments[0].GetURL != msg.Attachments[0].GetURL {
				t.Fatalf("attachments not preserved: %+v", got.Attachments)
			}
		})
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			msg := testMessage("ghost")
			if err := s.Update(ctx, msg); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from Update, got %v", err)
			}
		})
	}
}

func TestUpdateOnlyTouchesQueueOwnedFields(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, testMessage("m1")); err != nil {
				t.Fatal(err)
			}

			upd := testMessage("m1")
			upd.Status = models.StatusSent
			upd.RetryCount = 3
			upd.Text = "mutated" // must be ignored: text is immutable
			if err := s.Update(ctx, upd); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, "m1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != models.StatusSent || got.RetryCount != 3 {
				t.Fatalf("update not applied: %+v", got)
			}
			if got.Text != "hello" {
				t.Fatalf("update mutated immutable field: %q", got.Text)
			}
		})
	}
}

func TestListPendingSkipsResolved(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"a", "b", "c"} {
				if err := s.Put(ctx, testMessage(id)); err != nil {
					t.Fatal(err)
				}
			}
			if err := s.Delete(ctx, "b"); err != nil {
				t.Fatal(err)
			}

			pending, err := s.ListPending(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(pending) != 2 {
				t.Fatalf("expected 2 pending, got %d", len(pending))
			}
			if pending[0].ID != "a" || pending[1].ID != "c" {
				t.Fatalf("unexpected order: %s, %s", pending[0].ID, pending[1].ID)
			}

			n, err := s.Count(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Fatalf("expected count 2, got %d", n)
			}
		})
	}
}
