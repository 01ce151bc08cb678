package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
)

func storeKey(chat int64) models.ConversationKey {
	return models.ConversationKey{AgentID: "main", ChatID: chat, ThreadID: 1}
}

func TestMemoryStore_AbsentKeyIsNotAnError(t *testing.T) {
	s := NewMemoryStore()
	msgs, err := s.Get(context.Background(), storeKey(1))
	if err != nil {
		t.Fatalf("absent key returned error: %v", err)
	}
	if msgs != nil {
		t.Fatalf("absent key returned messages: %v", msgs)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := storeKey(1)

	in := []*models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi", ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "ok"}}},
	}
	if err := s.Set(ctx, key, in); err != nil {
		t.Fatal(err)
	}

	out, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Content != "hello" || out[1].ToolResults[0].Content != "ok" {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	out, err = s.Get(ctx, key)
	if err != nil || out != nil {
		t.Fatalf("after delete: msgs=%v err=%v", out, err)
	}
}

func TestMemoryStore_InactivityExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := storeKey(2)

	base := time.Now()
	now := base
	s.SetNowFunc(func() time.Time { return now })

	if err := s.Set(ctx, key, []*models.Message{{Role: models.RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}

	now = base.Add(31 * 24 * time.Hour)
	out, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("thread idle past expiry should read back as absent")
	}
}

func TestMemoryStore_Topics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateTopic(ctx, &models.Topic{Key: storeKey(1), Title: "first"}); err != nil {
		t.Fatal(err)
	}
	other := models.ConversationKey{AgentID: "other", ChatID: 9, ThreadID: 0}
	if err := s.CreateTopic(ctx, &models.Topic{Key: other, Title: "second"}); err != nil {
		t.Fatal(err)
	}

	topics, err := s.ListTopics(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Title != "first" {
		t.Fatalf("topics for main = %+v", topics)
	}

	if err := s.DeleteTopic(ctx, storeKey(1)); err != nil {
		t.Fatal(err)
	}
	topics, _ = s.ListTopics(ctx, "main")
	if len(topics) != 0 {
		t.Fatalf("topics after delete = %+v", topics)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	s, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	key := storeKey(3)

	if msgs, err := s.Get(ctx, key); err != nil || msgs != nil {
		t.Fatalf("absent key: msgs=%v err=%v", msgs, err)
	}

	in := []*models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hello"},
	}
	if err := s.Set(ctx, key, in); err != nil {
		t.Fatal(err)
	}
	out, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Role != models.RoleSystem || out[1].Content != "hello" {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	if err := s.CreateTopic(ctx, &models.Topic{Key: key, Title: "a topic"}); err != nil {
		t.Fatal(err)
	}
	topics, err := s.ListTopics(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Key != key {
		t.Fatalf("topics = %+v", topics)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if msgs, err := s.Get(ctx, key); err != nil || msgs != nil {
		t.Fatalf("after delete: msgs=%v err=%v", msgs, err)
	}
}
