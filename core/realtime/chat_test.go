package realtime

import (
	"strconv"
	"testing"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

func chatMsg(i int, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		SenderRole: model.RoleCustomer,
		SenderID:   "u1",
		Text:       "msg-" + strconv.Itoa(i),
		At:         at,
	}
}

func TestChatEvictsOldestBeyondCapacity(t *testing.T) {
	s := newChatStore(50, time.Hour)
	now := time.Now()
	for i := 0; i < 60; i++ {
		s.Append("o1", chatMsg(i, now.Add(time.Duration(i)*time.Second)))
	}

	history := s.History("o1", 50)
	if len(history) != 50 {
		t.Fatalf("expected 50 retained messages, got %d", len(history))
	}
	if history[0].Text != "msg-10" {
		t.Errorf("oldest retained = %q, want msg-10", history[0].Text)
	}
	if history[49].Text != "msg-59" {
		t.Errorf("newest retained = %q, want msg-59", history[49].Text)
	}
}

func TestChatHistoryLimit(t *testing.T) {
	s := newChatStore(50, time.Hour)
	now := time.Now()
	for i := 0; i < 30; i++ {
		s.Append("o1", chatMsg(i, now))
	}

	history := s.History("o1", 20)
	if len(history) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(history))
	}
	if history[0].Text != "msg-10" || history[19].Text != "msg-29" {
		t.Errorf("history window wrong: first=%q last=%q", history[0].Text, history[19].Text)
	}
}

func TestChatHistoryUnknownOrder(t *testing.T) {
	s := newChatStore(50, time.Hour)
	if got := s.History("missing", 20); got != nil {
		t.Fatalf("expected nil history, got %v", got)
	}
}

func TestChatSweepDropsIdleBuffers(t *testing.T) {
	s := newChatStore(50, 24*time.Hour)
	now := time.Now()
	s.Append("old", chatMsg(0, now.Add(-25*time.Hour)))
	s.Append("fresh", chatMsg(0, now))

	if dropped := s.Sweep(now); dropped != 1 {
		t.Fatalf("expected 1 dropped buffer, got %d", dropped)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live buffer, got %d", s.Len())
	}
	if s.History("fresh", 20) == nil {
		t.Error("fresh buffer must survive the sweep")
	}
}

func TestChatDrop(t *testing.T) {
	s := newChatStore(50, time.Hour)
	s.Append("o1", chatMsg(0, time.Now()))
	s.Drop("o1")
	if s.Len() != 0 {
		t.Fatal("dropped buffer must be gone")
	}
}
