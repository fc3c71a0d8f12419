package realtime

import (
	"sync"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// chatStore keeps a bounded ring buffer of messages per order. Buffers with
// no activity beyond the TTL are evicted wholesale.
type chatStore struct {
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	buffers map[string]*chatBuffer
}

type chatBuffer struct {
	messages   []model.ChatMessage
	lastActive time.Time
}

func newChatStore(capacity int, ttl time.Duration) *chatStore {
	return &chatStore{capacity: capacity, ttl: ttl, buffers: make(map[string]*chatBuffer)}
}

// Append adds a message, evicting the oldest when the buffer is full.
func (s *chatStore) Append(orderID string, msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[orderID]
	if !ok {
		buf = &chatBuffer{}
		s.buffers[orderID] = buf
	}
	buf.messages = append(buf.messages, msg)
	if len(buf.messages) > s.capacity {
		buf.messages = buf.messages[len(buf.messages)-s.capacity:]
	}
	buf.lastActive = msg.At
}

// History returns up to limit of the most recent messages in original order.
func (s *chatStore) History(orderID string, limit int) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[orderID]
	if !ok {
		return nil
	}
	msgs := buf.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Drop removes the buffer for an order.
func (s *chatStore) Drop(orderID string) {
	s.mu.Lock()
	delete(s.buffers, orderID)
	s.mu.Unlock()
}

// Sweep evicts buffers idle beyond the TTL and returns how many were dropped.
func (s *chatStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, buf := range s.buffers {
		if now.Sub(buf.lastActive) > s.ttl {
			delete(s.buffers, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live buffers. Observability only.
func (s *chatStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}
