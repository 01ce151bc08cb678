package history

import (
	"sync"
	"testing"

	"github.com/haasonsaas/switchboard/pkg/models"
)

func userMsg(content string) *models.Message {
	return &models.Message{Role: models.RoleUser, Content: content}
}

func TestUpsertSystem_InsertsAtPositionZero(t *testing.T) {
	h := New()
	h.Append(userMsg("hi"))
	h.UpsertSystem("be helpful")

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[0].Role != models.RoleSystem || snap[0].Content != "be helpful" {
		t.Fatalf("position 0 = %+v, want system message", snap[0])
	}
}

func TestUpsertSystem_ReplacesInPlace(t *testing.T) {
	h := New()
	h.UpsertSystem("v1")
	h.Append(userMsg("hi"))
	h.UpsertSystem("v2")

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2 (upsert must not change length)", len(snap))
	}
	if snap[0].Content != "v2" {
		t.Fatalf("system content = %q, want v2", snap[0].Content)
	}
}

func TestUpsertSystem_EmptyIsNoop(t *testing.T) {
	h := New()
	h.Append(userMsg("hi"))
	h.UpsertSystem("")

	if h.Len() != 1 {
		t.Fatalf("len = %d, want 1", h.Len())
	}
}

func TestSnapshot_IsDetached(t *testing.T) {
	h := New()
	h.Append(userMsg("original"))

	snap := h.Snapshot()
	snap[0].Content = "mutated"

	if h.Snapshot()[0].Content != "original" {
		t.Fatal("mutating a snapshot leaked into the buffer")
	}
}

func TestSnapshot_ConcurrentWithAppend(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Append(userMsg("m"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, m := range h.Snapshot() {
				_ = m.Content
			}
		}
	}()
	wg.Wait()

	if h.Len() != 200 {
		t.Fatalf("len = %d, want 200", h.Len())
	}
}

func TestTrim_KeepsSystemMessage(t *testing.T) {
	h := New()
	h.UpsertSystem("sys")
	for i := 0; i < 10; i++ {
		h.Append(userMsg("m"))
	}

	h.Trim(5)
	snap := h.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("len = %d, want 5", len(snap))
	}
	if snap[0].Role != models.RoleSystem {
		t.Fatal("trim dropped the system message")
	}
}
