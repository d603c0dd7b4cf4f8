package shortterm

import (
	"context"
	"testing"
	"time"

	"github.com/longregen/engram/internal/domain/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func message(t *testing.T, id string, importance float32, ts time.Time) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(id, "user_1", "conv_1", models.MessageRoleUser, "content of "+id)
	if err != nil {
		t.Fatal(err)
	}
	msg.Timestamp = ts
	return msg.WithImportance(importance)
}

func TestAddEvictsLowestImportance(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithCapacity(3))
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id         string
		importance float32
	}{
		{"msg_a", 0.9},
		{"msg_b", 0.2},
		{"msg_c", 0.8},
		{"msg_d", 0.5},
	} {
		msg := message(t, tc.id, tc.importance, base.Add(time.Duration(i)*time.Minute))
		if err := s.Add(ctx, "user_1", "conv_1", msg); err != nil {
			t.Fatalf("Add %s: %v", tc.id, err)
		}
	}

	recent, err := s.GetRecent(ctx, "user_1", "conv_1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages after eviction, got %d", len(recent))
	}
	want := []string{"msg_a", "msg_c", "msg_d"}
	for i, msg := range recent {
		if msg.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], msg.ID)
		}
	}
}

func TestEvictionTieBreaksOldest(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithCapacity(2))
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s.Add(ctx, "user_1", "conv_1", message(t, "msg_old", 0.5, base))
	s.Add(ctx, "user_1", "conv_1", message(t, "msg_new", 0.5, base.Add(time.Minute)))
	s.Add(ctx, "user_1", "conv_1", message(t, "msg_top", 0.9, base.Add(2*time.Minute)))

	recent, _ := s.GetRecent(ctx, "user_1", "conv_1", 10)
	for _, msg := range recent {
		if msg.ID == "msg_old" {
			t.Error("tie on importance must evict the oldest message")
		}
	}
}

func TestGetRecentReturnsLastN(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithCapacity(10))
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := "msg_" + string(rune('a'+i))
		s.Add(ctx, "user_1", "conv_1", message(t, id, 0.5, base.Add(time.Duration(i)*time.Minute)))
	}

	recent, err := s.GetRecent(ctx, "user_1", "conv_1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "msg_d" || recent[1].ID != "msg_e" {
		t.Errorf("expected the two most recent ascending, got %v", ids(recent))
	}
}

func TestPartitionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithCapacity(2))
	base := time.Now().UTC()

	s.Add(ctx, "user_1", "conv_1", message(t, "msg_1", 0.5, base))
	msgOther, _ := models.NewMessage("msg_2", "user_1", "conv_2", models.MessageRoleUser, "other")
	s.Add(ctx, "user_1", "conv_2", msgOther)

	if s.Size("user_1", "conv_1") != 1 || s.Size("user_1", "conv_2") != 1 {
		t.Error("conversations must not share windows")
	}
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := NewStore(WithTTL(time.Hour), WithClock(clock))

	s.Add(ctx, "user_1", "conv_1", message(t, "msg_1", 0.5, clock.now))

	clock.advance(30 * time.Minute)
	if reaped, _ := s.ReapExpired(ctx); reaped != 0 {
		t.Errorf("nothing should expire inside the TTL, reaped %d", reaped)
	}

	clock.advance(2 * time.Hour)
	reaped, err := s.ReapExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Errorf("expected 1 reaped partition, got %d", reaped)
	}
	if s.Size("user_1", "conv_1") != 0 {
		t.Error("expired partition should be gone")
	}
}

func TestAccessRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := NewStore(WithTTL(time.Hour), WithClock(clock))

	s.Add(ctx, "user_1", "conv_1", message(t, "msg_1", 0.5, clock.now))

	clock.advance(50 * time.Minute)
	s.GetRecent(ctx, "user_1", "conv_1", 10) // refreshes

	clock.advance(50 * time.Minute)
	if reaped, _ := s.ReapExpired(ctx); reaped != 0 {
		t.Errorf("read access should have refreshed the TTL, reaped %d", reaped)
	}
}

func TestEraseUser(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Now().UTC()

	s.Add(ctx, "user_1", "conv_1", message(t, "msg_1", 0.5, base))
	msg2, _ := models.NewMessage("msg_2", "user_2", "conv_9", models.MessageRoleUser, "keep me")
	s.Add(ctx, "user_2", "conv_9", msg2)

	if err := s.EraseUser(ctx, "user_1"); err != nil {
		t.Fatal(err)
	}
	if s.Size("user_1", "conv_1") != 0 {
		t.Error("user_1 window should be empty")
	}
	if s.Size("user_2", "conv_9") != 1 {
		t.Error("user_2 must be untouched")
	}
}

func TestAddValidatesInput(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	msg, _ := models.NewMessage("msg_1", "user_1", "conv_1", models.MessageRoleUser, "hi")

	if err := s.Add(ctx, "", "conv_1", msg); err == nil {
		t.Error("expected error for empty user")
	}
	if err := s.Add(ctx, "user_1", "", msg); err == nil {
		t.Error("expected error for empty conversation")
	}
}

func ids(messages []*models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}
