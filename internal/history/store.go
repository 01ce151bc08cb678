package history

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Store is the durable thread-state contract. An absent key is a normal
// result (nil messages, nil error), never an error; store errors always mean
// the operation itself failed and must be surfaced, so history loss is never
// silent.
type Store interface {
	// Get returns the serialized history for key, or (nil, nil) if absent.
	Get(ctx context.Context, key models.ConversationKey) ([]*models.Message, error)

	// Set replaces the stored history for key.
	Set(ctx context.Context, key models.ConversationKey, msgs []*models.Message) error

	// Delete removes the stored history for key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key models.ConversationKey) error

	// Topic metadata, the conversation records visible to a UI.
	CreateTopic(ctx context.Context, topic *models.Topic) error
	ListTopics(ctx context.Context, agentID string) ([]*models.Topic, error)
	DeleteTopic(ctx context.Context, key models.ConversationKey) error
}

// DefaultExpiry is how long a thread may sit idle before the store treats it
// as absent. Expiry is a store policy, not a core one.
const DefaultExpiry = 30 * 24 * time.Hour

// MemoryStore provides an in-memory Store for testing and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	expiry  time.Duration
	nowFunc func() time.Time

	threads map[models.ConversationKey]*memoryThread
	topics  map[models.ConversationKey]*models.Topic
}

type memoryThread struct {
	msgs      []*models.Message
	updatedAt time.Time
}

// NewMemoryStore creates an in-memory store with the default expiry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expiry:  DefaultExpiry,
		nowFunc: time.Now,
		threads: make(map[models.ConversationKey]*memoryThread),
		topics:  make(map[models.ConversationKey]*models.Topic),
	}
}

// SetNowFunc overrides the clock, for expiry tests.
func (s *MemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

func (s *MemoryStore) Get(ctx context.Context, key models.ConversationKey) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[key]
	if !ok {
		return nil, nil
	}
	if s.expiry > 0 && s.nowFunc().Sub(th.updatedAt) > s.expiry {
		delete(s.threads, key)
		return nil, nil
	}
	out := make([]*models.Message, len(th.msgs))
	for i, m := range th.msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key models.ConversationKey, msgs []*models.Message) error {
	clones := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		clones[i] = m.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[key] = &memoryThread{msgs: clones, updatedAt: s.nowFunc()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key models.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, key)
	return nil
}

func (s *MemoryStore) CreateTopic(ctx context.Context, topic *models.Topic) error {
	if topic == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *topic
	now := s.nowFunc()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.topics[topic.Key] = &clone
	return nil
}

func (s *MemoryStore) ListTopics(ctx context.Context, agentID string) ([]*models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Topic, 0, len(s.topics))
	for _, tp := range s.topics {
		if agentID != "" && tp.Key.AgentID != agentID {
			continue
		}
		clone := *tp
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) DeleteTopic(ctx context.Context, key models.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, key)
	return nil
}
